package processors

import "github.com/aevon-lab/tally/internal/core/metric"

// versionFamily rolls the already-windowed per-version metrics up to the model.
// It does not bind the timeframe bounds.
const versionFamily = `
	SELECT mv.model_id AS entity_id, v.counter,
		COALESCE(SUM(v.value) FILTER (WHERE m.timeframe = 'Day'), 0)::bigint,
		COALESCE(SUM(v.value) FILTER (WHERE m.timeframe = 'Week'), 0)::bigint,
		COALESCE(SUM(v.value) FILTER (WHERE m.timeframe = 'Month'), 0)::bigint,
		COALESCE(SUM(v.value) FILTER (WHERE m.timeframe = 'Year'), 0)::bigint,
		COALESCE(SUM(v.value) FILTER (WHERE m.timeframe = 'AllTime'), 0)::bigint
	FROM model_version_metrics m
	JOIN model_versions mv ON mv.id = m.model_version_id
	CROSS JOIN LATERAL (VALUES
		('download_count', m.download_count::bigint),
		('generation_count', m.generation_count::bigint)
	) AS v(counter, value)
	WHERE mv.model_id = ANY($1) AND mv.model_id BETWEEN $2 AND $3
	GROUP BY mv.model_id, v.counter
`

// Model merges review thumbs and collects with version-level download and
// generation counts.
func Model() metric.Definition {
	return metric.Definition{
		Name:                "model",
		EntityType:          "model",
		MetricTable:         "model_metrics",
		RankTable:           "model_ranks",
		EntityTable:         "models",
		EntityCreatedColumn: "created_at",
		Counters: []string{
			"thumbs_up_count", "thumbs_down_count", "collected_count", "download_count", "generation_count",
		},
		Signals: []metric.Signal{
			{Name: "reviews", Query: changedSince("model_id", "resource_reviews", "updated_at")},
			{Name: "collects", Query: changedSince("model_id", "collection_items", "created_at") + " AND model_id IS NOT NULL"},
			{Name: "versions", Query: `
				SELECT DISTINCT mv.model_id
				FROM model_version_metrics m
				JOIN model_versions mv ON mv.id = m.model_version_id
				WHERE m.updated_at > $1
			`},
		},
		Families: []metric.Family{
			{
				Name: "reviews",
				Query: windowedFamily("r.model_id", "resource_reviews r", "r.created_at", "r.exclude = false",
					countWhen("thumbs_up_count", "r.recommended"),
					countWhen("thumbs_down_count", "NOT r.recommended"),
				),
				Windowed: true,
			},
			{
				Name:     "collects",
				Query:    windowedFamily("ci.model_id", "collection_items ci", "ci.created_at", "", count("collected_count")),
				Windowed: true,
			},
			{Name: "versions", Query: versionFamily},
		},
		Ranks: append(
			rankColumns("download_count", metric.Day, metric.Week, metric.Month, metric.Year, metric.AllTime),
			rankColumns("thumbs_up_count", metric.Month, metric.AllTime)...,
		),
	}
}
