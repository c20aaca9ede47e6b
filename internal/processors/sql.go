package processors

import (
	"fmt"
	"strings"

	"github.com/aevon-lab/tally/internal/core/metric"
)

// changedSince is a signal over one source table: ids touched after the cursor ($1).
func changedSince(entityCol, from, changedCol string) string {
	return fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s > $1`, entityCol, from, changedCol)
}

// valueSource is one (counter, value) pair emitted per source row.
type valueSource struct {
	counter string
	value   string
}

// windowedFamily builds a long-form family over an event table. Each source row
// contributes value to counter in every timeframe whose window contains eventCol.
// Parameters follow the family contract: $1 ids, $2/$3 id range, $4..$7 bounds.
func windowedFamily(entityCol, from, eventCol, where string, values ...valueSource) string {
	pairs := make([]string, len(values))
	for i, v := range values {
		pairs[i] = fmt.Sprintf("('%s', %s)", v.counter, v.value)
	}

	cols := make([]string, 0, len(metric.Timeframes))
	for i := range metric.RollingTimeframes {
		cols = append(cols, fmt.Sprintf("COALESCE(SUM(v.value) FILTER (WHERE %s >= $%d), 0)::bigint", eventCol, i+4))
	}
	cols = append(cols, "COALESCE(SUM(v.value), 0)::bigint")

	filter := fmt.Sprintf("%s = ANY($1) AND %s BETWEEN $2 AND $3", entityCol, entityCol)
	if where != "" {
		filter += " AND " + where
	}

	return fmt.Sprintf(`
		SELECT %s AS entity_id, v.counter, %s
		FROM %s
		CROSS JOIN LATERAL (VALUES %s) AS v(counter, value)
		WHERE %s
		GROUP BY %s, v.counter
	`, entityCol, strings.Join(cols, ", "), from, strings.Join(pairs, ", "), filter, entityCol)
}

// count is the value of a counter incremented once per source row.
func count(counter string) valueSource { return valueSource{counter: counter, value: "1::bigint"} }

// countWhen counts source rows matching cond.
func countWhen(counter, cond string) valueSource {
	return valueSource{counter: counter, value: fmt.Sprintf("CASE WHEN %s THEN 1 ELSE 0 END::bigint", cond)}
}

// sum adds expr per source row.
func sum(counter, expr string) valueSource {
	return valueSource{counter: counter, value: fmt.Sprintf("COALESCE(%s, 0)::bigint", expr)}
}

// rankColumns ranks counter in each timeframe as "<counter>_<timeframe>_rank".
func rankColumns(counter string, timeframes ...metric.Timeframe) []metric.RankColumn {
	out := make([]metric.RankColumn, len(timeframes))
	for i, tf := range timeframes {
		out[i] = metric.RankColumn{
			Column:    fmt.Sprintf("%s_%s_rank", counter, strings.ToLower(string(tf))),
			Counter:   counter,
			Timeframe: tf,
		}
	}
	return out
}
