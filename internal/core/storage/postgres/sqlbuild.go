package postgres

import (
	"fmt"
	"strings"

	"github.com/aevon-lab/tally/internal/core/metric"
	"github.com/lib/pq"
)

// statements holds the definition-dependent SQL of one processor, built once.
type statements struct {
	upsert      string
	decay       string
	rankDelete  string
	rankInsert  string
	readMetrics string
}

func buildStatements(def metric.Definition) statements {
	s := statements{
		upsert:      buildUpsert(def),
		decay:       buildDecay(def),
		readMetrics: buildReadMetrics(def),
	}
	if len(def.Ranks) > 0 {
		s.rankDelete = fmt.Sprintf("DELETE FROM %s", pq.QuoteIdentifier(def.RankTable))
		s.rankInsert = buildRankInsert(def)
	}
	return s
}

func quotedCounters(def metric.Definition) []string {
	cols := make([]string, len(def.Counters))
	for i, c := range def.Counters {
		cols[i] = pq.QuoteIdentifier(c)
	}
	return cols
}

// ageGroupCase classifies createdCol against the Day/Week/Month/Year lower bounds
// bound at $first..$first+3. A missing entity falls through to AllTime.
func ageGroupCase(createdCol string, first int) string {
	var b strings.Builder
	b.WriteString("CASE")
	for i, tf := range metric.RollingTimeframes {
		fmt.Fprintf(&b, " WHEN %s >= $%d THEN %s", createdCol, first+i, pq.QuoteLiteral(string(tf)))
	}
	fmt.Fprintf(&b, " ELSE %s END", pq.QuoteLiteral(string(metric.AllTime)))
	return b.String()
}

// buildUpsert writes a whole batch in one statement. Parameters:
// $1 entity ids, $2 timeframes, $3.. one array per counter, then updated_at and
// the four rolling lower bounds used for the age group.
func buildUpsert(def metric.Definition) string {
	cols := quotedCounters(def)
	n := len(cols)

	unnestArgs := []string{"$1::bigint[]", "$2::text[]"}
	for i := range cols {
		unnestArgs = append(unnestArgs, fmt.Sprintf("$%d::bigint[]", i+3))
	}

	selectCols := make([]string, n)
	sets := make([]string, n)
	for i, c := range cols {
		selectCols[i] = "u." + c
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}

	updatedAt := n + 3
	created := "e." + pq.QuoteIdentifier(def.EntityCreatedColumn)

	return fmt.Sprintf(`
		INSERT INTO %s (entity_id, timeframe, %s, age_group, updated_at)
		SELECT u.entity_id, u.timeframe, %s, %s, $%d
		FROM unnest(%s) AS u(entity_id, timeframe, %s)
		LEFT JOIN %s e ON e.id = u.entity_id
		ON CONFLICT (entity_id, timeframe) DO UPDATE SET
			%s,
			age_group  = EXCLUDED.age_group,
			updated_at = EXCLUDED.updated_at
	`,
		pq.QuoteIdentifier(def.MetricTable), strings.Join(cols, ", "),
		strings.Join(selectCols, ", "), ageGroupCase(created, updatedAt+1), updatedAt,
		strings.Join(unnestArgs, ", "), strings.Join(cols, ", "),
		pq.QuoteIdentifier(def.EntityTable),
		strings.Join(sets, ",\n\t\t\t"),
	)
}

// buildDecay reclassifies rows whose entity aged past its group's window and
// zeroes the Day-timeframe counters of rows leaving the Day group, in one statement.
// Day rows not rewritten since the Day lower bound are zeroed whatever their group:
// no event inside the last day reached them.
// Parameters: $1 updated_at, $2..$5 the rolling lower bounds.
func buildDecay(def metric.Definition) string {
	cols := quotedCounters(def)
	day := pq.QuoteLiteral(string(metric.Day))
	stale := fmt.Sprintf("m.timeframe = %s AND (m.age_group = %s OR m.updated_at < $2)", day, day)

	zeroes := make([]string, len(cols))
	nonZero := make([]string, len(cols))
	for i, c := range cols {
		zeroes[i] = fmt.Sprintf("%s = CASE WHEN %s THEN 0 ELSE m.%s END", c, stale, c)
		nonZero[i] = fmt.Sprintf("m.%s <> 0", c)
	}

	created := "e." + pq.QuoteIdentifier(def.EntityCreatedColumn)

	return fmt.Sprintf(`
		UPDATE %s AS m SET
			%s,
			age_group  = %s,
			updated_at = $1
		FROM %s AS e
		WHERE e.id = m.entity_id
		  AND (
		    (m.age_group <> %s
		     AND %s < CASE m.age_group WHEN %s THEN $2 WHEN %s THEN $3 WHEN %s THEN $4 ELSE $5 END)
		    OR (m.timeframe = %s AND m.updated_at < $2 AND (%s))
		  )
	`,
		pq.QuoteIdentifier(def.MetricTable),
		strings.Join(zeroes, ",\n\t\t\t"),
		ageGroupCase(created, 2),
		pq.QuoteIdentifier(def.EntityTable),
		pq.QuoteLiteral(string(metric.AllTime)),
		created, day, pq.QuoteLiteral(string(metric.Week)), pq.QuoteLiteral(string(metric.Month)),
		day, strings.Join(nonZero, " OR "),
	)
}

// buildRankInsert ranks every entity of the metric table per configured column.
// Parameter: $1 refreshed_at.
func buildRankInsert(def metric.Definition) string {
	cols := make([]string, len(def.Ranks))
	exprs := make([]string, len(def.Ranks))
	for i, r := range def.Ranks {
		cols[i] = pq.QuoteIdentifier(r.Column)
		exprs[i] = fmt.Sprintf(
			"ROW_NUMBER() OVER (ORDER BY COALESCE(MAX(%s) FILTER (WHERE timeframe = %s), 0) DESC, entity_id ASC)",
			pq.QuoteIdentifier(r.Counter), pq.QuoteLiteral(string(r.Timeframe)),
		)
	}

	return fmt.Sprintf(`
		INSERT INTO %s (entity_id, %s, refreshed_at)
		SELECT entity_id, %s, $1
		FROM %s
		GROUP BY entity_id
	`,
		pq.QuoteIdentifier(def.RankTable), strings.Join(cols, ", "),
		strings.Join(exprs, ",\n\t\t\t"),
		pq.QuoteIdentifier(def.MetricTable),
	)
}

func buildReadMetrics(def metric.Definition) string {
	return fmt.Sprintf(`
		SELECT timeframe, %s, age_group, updated_at
		FROM %s
		WHERE entity_id = $1
	`, strings.Join(quotedCounters(def), ", "), pq.QuoteIdentifier(def.MetricTable))
}
