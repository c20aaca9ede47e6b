package processors

import "github.com/aevon-lab/tally/internal/core/metric"

var reactionCounters = []valueSource{
	countWhen("like_count", "r.reaction = 'Like'"),
	countWhen("heart_count", "r.reaction = 'Heart'"),
	countWhen("laugh_count", "r.reaction = 'Laugh'"),
	countWhen("cry_count", "r.reaction = 'Cry'"),
	countWhen("dislike_count", "r.reaction = 'Dislike'"),
}

// Image tracks reactions, comments, collects and tips of images. Views come
// from the analytics store when one is configured.
func Image() metric.Definition {
	return metric.Definition{
		Name:                "image",
		EntityType:          "image",
		MetricTable:         "image_metrics",
		RankTable:           "image_ranks",
		EntityTable:         "images",
		EntityCreatedColumn: "created_at",
		Counters: []string{
			"like_count", "heart_count", "laugh_count", "cry_count", "dislike_count",
			"comment_count", "collected_count", "tipped_count", "tipped_amount_count", "view_count",
		},
		Signals: []metric.Signal{
			{Name: "reactions", Query: changedSince("image_id", "image_reactions", "created_at")},
			{Name: "comments", Query: changedSince("image_id", "comments", "created_at") + " AND image_id IS NOT NULL"},
			{Name: "collects", Query: changedSince("image_id", "collection_items", "created_at") + " AND image_id IS NOT NULL"},
			{Name: "tips", Query: changedSince("entity_id", "tips", "created_at") + " AND entity_type = 'Image'"},
		},
		AnalyticsSignals: []metric.Signal{
			{Name: "views", Query: `SELECT DISTINCT toInt64(entity_id) FROM views WHERE entity_type = 'Image' AND time > ?`},
		},
		Families: []metric.Family{
			{
				Name:     "reactions",
				Query:    windowedFamily("r.image_id", "image_reactions r", "r.created_at", "", reactionCounters...),
				Windowed: true,
			},
			{
				Name:     "comments",
				Query:    windowedFamily("c.image_id", "comments c", "c.created_at", "c.hidden = false", count("comment_count")),
				Windowed: true,
			},
			{
				Name:     "collects",
				Query:    windowedFamily("ci.image_id", "collection_items ci", "ci.created_at", "", count("collected_count")),
				Windowed: true,
			},
			{
				Name: "tips",
				Query: windowedFamily("t.entity_id", "tips t", "t.created_at", "t.entity_type = 'Image'",
					count("tipped_count"), sum("tipped_amount_count", "t.amount")),
				Windowed: true,
			},
		},
		AnalyticsFamilies: []metric.Family{
			{Name: "views", Query: viewsFamily("Image"), Windowed: true},
		},
		Ranks: append(
			rankColumns("like_count", metric.Day, metric.Week, metric.Month, metric.Year, metric.AllTime),
			append(
				rankColumns("comment_count", metric.Week, metric.AllTime),
				rankColumns("collected_count", metric.Week, metric.AllTime)...,
			)...,
		),
	}
}

// viewsFamily binds its parameters through a WITH clause so the positional
// order matches the family contract.
func viewsFamily(entityType string) string {
	return `
		WITH ? AS ids, ? AS lo, ? AS hi, ? AS day_since, ? AS week_since, ? AS month_since, ? AS year_since
		SELECT
			toInt64(entity_id) AS entity_id,
			'view_count' AS counter,
			countIf(time >= day_since) AS day,
			countIf(time >= week_since) AS week,
			countIf(time >= month_since) AS month,
			countIf(time >= year_since) AS year,
			count() AS all_time
		FROM views
		WHERE entity_type = '` + entityType + `'
		  AND has(ids, toInt64(entity_id))
		  AND entity_id BETWEEN lo AND hi
		GROUP BY entity_id
	`
}
