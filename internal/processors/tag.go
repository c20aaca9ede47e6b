package processors

import "github.com/aevon-lab/tally/internal/core/metric"

// Tag counts tagged images and models and tag followers. Most tags see no
// activity in most windows, so only non-zero rows are written.
func Tag() metric.Definition {
	return metric.Definition{
		Name:                "tag",
		EntityType:          "tag",
		MetricTable:         "tag_metrics",
		RankTable:           "tag_ranks",
		EntityTable:         "tags",
		EntityCreatedColumn: "created_at",
		Counters:            []string{"image_count", "model_count", "follower_count"},
		Signals: []metric.Signal{
			{Name: "images", Query: changedSince("tag_id", "tags_on_image", "created_at")},
			{Name: "models", Query: changedSince("tag_id", "tags_on_model", "created_at")},
			{Name: "followers", Query: changedSince("tag_id", "tag_engagements", "created_at") + " AND type = 'Follow'"},
		},
		Families: []metric.Family{
			{
				Name:     "images",
				Query:    windowedFamily("toi.tag_id", "tags_on_image toi", "toi.created_at", "", count("image_count")),
				Windowed: true,
			},
			{
				Name:     "models",
				Query:    windowedFamily("tom.tag_id", "tags_on_model tom", "tom.created_at", "", count("model_count")),
				Windowed: true,
			},
			{
				Name:     "followers",
				Query:    windowedFamily("te.tag_id", "tag_engagements te", "te.created_at", "te.type = 'Follow'", count("follower_count")),
				Windowed: true,
			},
		},
		Sparse: true,
		Ranks:  rankColumns("follower_count", metric.AllTime),
	}
}
