package processors

import "github.com/aevon-lab/tally/internal/core/metric"

// Post tracks reactions, comments and collects of posts.
func Post() metric.Definition {
	return metric.Definition{
		Name:                "post",
		EntityType:          "post",
		MetricTable:         "post_metrics",
		RankTable:           "post_ranks",
		EntityTable:         "posts",
		EntityCreatedColumn: "published_at",
		Counters: []string{
			"like_count", "heart_count", "laugh_count", "cry_count", "dislike_count",
			"comment_count", "collected_count",
		},
		Signals: []metric.Signal{
			{Name: "reactions", Query: changedSince("post_id", "post_reactions", "created_at")},
			{Name: "comments", Query: changedSince("post_id", "comments", "created_at") + " AND post_id IS NOT NULL"},
			{Name: "collects", Query: changedSince("post_id", "collection_items", "created_at") + " AND post_id IS NOT NULL"},
		},
		Families: []metric.Family{
			{
				Name:     "reactions",
				Query:    windowedFamily("r.post_id", "post_reactions r", "r.created_at", "", reactionCounters...),
				Windowed: true,
			},
			{
				Name:     "comments",
				Query:    windowedFamily("c.post_id", "comments c", "c.created_at", "c.hidden = false", count("comment_count")),
				Windowed: true,
			},
			{
				Name:     "collects",
				Query:    windowedFamily("ci.post_id", "collection_items ci", "ci.created_at", "", count("collected_count")),
				Windowed: true,
			},
		},
		Ranks: rankColumns("like_count", metric.Day, metric.Week, metric.Month, metric.Year, metric.AllTime),
	}
}
