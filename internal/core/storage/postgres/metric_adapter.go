package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aevon-lab/tally/internal/core/metric"
	"github.com/aevon-lab/tally/internal/core/partition"
	"github.com/aevon-lab/tally/internal/core/storage"
	"github.com/lib/pq"
)

// MetricAdapter runs signal and aggregation queries against the read pool and
// owns the metric and rank tables on the primary.
type MetricAdapter struct {
	primary *sql.DB
	replica *sql.DB
	defs    map[string]metric.Definition
	stmts   map[string]statements
}

var (
	_ storage.SignalSource = (*MetricAdapter)(nil)
	_ storage.FamilySource = (*MetricAdapter)(nil)
	_ storage.MetricStore  = (*MetricAdapter)(nil)
)

// NewMetricAdapter builds the per-processor statements. replica may be nil, in
// which case reads go to the primary.
func NewMetricAdapter(primary, replica *sql.DB, defs []metric.Definition) *MetricAdapter {
	if replica == nil {
		replica = primary
	}
	a := &MetricAdapter{
		primary: primary,
		replica: replica,
		defs:    make(map[string]metric.Definition, len(defs)),
		stmts:   make(map[string]statements, len(defs)),
	}
	for _, def := range defs {
		a.defs[def.Name] = def
		a.stmts[def.Name] = buildStatements(def)
	}
	return a
}

// Tables lists the tables owned by the registered definitions, for schema validation.
func (a *MetricAdapter) Tables() []string {
	var tables []string
	for _, def := range a.defs {
		tables = append(tables, def.MetricTable)
		if def.RankTable != "" {
			tables = append(tables, def.RankTable)
		}
	}
	sort.Strings(tables)
	return tables
}

func (a *MetricAdapter) definition(processor string) (metric.Definition, statements, error) {
	def, ok := a.defs[processor]
	if !ok {
		return metric.Definition{}, statements{}, fmt.Errorf("%w: %s", storage.ErrNoDefinition, processor)
	}
	return def, a.stmts[processor], nil
}

// Signals returns the relational signal names of a processor.
func (a *MetricAdapter) Signals(processor string) []string {
	def := a.defs[processor]
	names := make([]string, len(def.Signals))
	for i, s := range def.Signals {
		names[i] = s.Name
	}
	return names
}

// ResolveSignal returns the distinct ids the signal saw change after cursor.
func (a *MetricAdapter) ResolveSignal(ctx context.Context, processor, signal string, cursor time.Time) ([]int64, error) {
	def, _, err := a.definition(processor)
	if err != nil {
		return nil, err
	}
	for _, s := range def.Signals {
		if s.Name != signal {
			continue
		}
		rows, err := a.replica.QueryContext(ctx, s.Query, cursor)
		if err != nil {
			return nil, fmt.Errorf("signal %s/%s: %w", processor, signal, err)
		}
		defer rows.Close()

		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("signal %s/%s: scan row: %w", processor, signal, err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("signal %s/%s: iterate rows: %w", processor, signal, err)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("signal %s/%s: not defined", processor, signal)
}

// Families returns the relational family names of a processor.
func (a *MetricAdapter) Families(processor string) []string {
	def := a.defs[processor]
	names := make([]string, len(def.Families))
	for i, f := range def.Families {
		names[i] = f.Name
	}
	return names
}

// ComputeFamily runs one aggregation family over a batch.
func (a *MetricAdapter) ComputeFamily(
	ctx context.Context,
	processor string,
	family string,
	batch partition.Batch,
	bounds metric.WindowBounds,
) ([]metric.WindowRow, error) {
	def, _, err := a.definition(processor)
	if err != nil {
		return nil, err
	}

	var fam *metric.Family
	for i := range def.Families {
		if def.Families[i].Name == family {
			fam = &def.Families[i]
			break
		}
	}
	if fam == nil {
		return nil, fmt.Errorf("family %s/%s: not defined", processor, family)
	}

	args := []interface{}{pq.Array(batch.IDs), batch.Min, batch.Max}
	if fam.Windowed {
		for _, since := range bounds.Ordered() {
			args = append(args, since)
		}
	}

	rows, err := a.replica.QueryContext(ctx, fam.Query, args...)
	if err != nil {
		return nil, fmt.Errorf("family %s/%s: %w", processor, family, err)
	}
	defer rows.Close()

	var out []metric.WindowRow
	for rows.Next() {
		var (
			entityID                           int64
			counter                            string
			day, week, month, year, allTimeVal int64
		)
		if err := rows.Scan(&entityID, &counter, &day, &week, &month, &year, &allTimeVal); err != nil {
			return nil, fmt.Errorf("family %s/%s: scan row: %w", processor, family, err)
		}
		if !def.HasCounter(counter) {
			return nil, fmt.Errorf("family %s/%s: unknown counter %q", processor, family, counter)
		}
		out = append(out, metric.NewWindowRow(entityID, counter, day, week, month, year, allTimeVal))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("family %s/%s: iterate rows: %w", processor, family, err)
	}
	return out, nil
}

// Upsert overwrites the counters of every record in one statement.
func (a *MetricAdapter) Upsert(
	ctx context.Context,
	processor string,
	records []metric.Record,
	bounds metric.WindowBounds,
) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	def, stmts, err := a.definition(processor)
	if err != nil {
		return 0, err
	}

	ids := make([]int64, len(records))
	timeframes := make([]string, len(records))
	columns := make([][]int64, len(def.Counters))
	for i := range columns {
		columns[i] = make([]int64, len(records))
	}
	for r, rec := range records {
		ids[r] = rec.EntityID
		timeframes[r] = string(rec.Timeframe)
		for c, name := range def.Counters {
			columns[c][r] = rec.Counters[name]
		}
	}

	args := make([]interface{}, 0, len(columns)+7)
	args = append(args, pq.Array(ids), pq.Array(timeframes))
	for _, col := range columns {
		args = append(args, pq.Array(col))
	}
	args = append(args, bounds.Now)
	for _, since := range bounds.Ordered() {
		args = append(args, since)
	}

	res, err := a.primary.ExecContext(ctx, stmts.upsert, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", def.MetricTable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("upsert %s: rows affected: %w", def.MetricTable, err)
	}
	return n, nil
}

// DecayDay reclassifies aged rows, zeroing the Day counters of rows leaving the Day group.
func (a *MetricAdapter) DecayDay(ctx context.Context, processor string, bounds metric.WindowBounds) (int64, error) {
	def, stmts, err := a.definition(processor)
	if err != nil {
		return 0, err
	}

	args := []interface{}{bounds.Now}
	for _, since := range bounds.Ordered() {
		args = append(args, since)
	}

	res, err := a.primary.ExecContext(ctx, stmts.decay, args...)
	if err != nil {
		return 0, fmt.Errorf("decay %s: %w", def.MetricTable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("decay %s: rows affected: %w", def.MetricTable, err)
	}

	slog.Info("[MetricAdapter] Day decay applied", "processor", processor, "rows", n)
	return n, nil
}

// RefreshRanks replaces the rank table contents in one transaction.
func (a *MetricAdapter) RefreshRanks(ctx context.Context, processor string, refreshedAt time.Time) (int64, error) {
	def, stmts, err := a.definition(processor)
	if err != nil {
		return 0, err
	}
	if stmts.rankInsert == "" {
		return 0, nil
	}

	tx, err := a.primary.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("refresh ranks %s: begin tx: %w", def.RankTable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, stmts.rankDelete); err != nil {
		return 0, fmt.Errorf("refresh ranks %s: clear: %w", def.RankTable, err)
	}

	res, err := tx.ExecContext(ctx, stmts.rankInsert, refreshedAt)
	if err != nil {
		return 0, fmt.Errorf("refresh ranks %s: insert: %w", def.RankTable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("refresh ranks %s: rows affected: %w", def.RankTable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("refresh ranks %s: commit: %w", def.RankTable, err)
	}

	slog.Info("[MetricAdapter] Ranks refreshed", "processor", processor, "rows", n)
	return n, nil
}

// ReadMetrics returns the stored rows of one entity ordered by timeframe.
func (a *MetricAdapter) ReadMetrics(ctx context.Context, processor string, entityID int64) ([]metric.Record, error) {
	def, stmts, err := a.definition(processor)
	if err != nil {
		return nil, err
	}

	rows, err := a.replica.QueryContext(ctx, stmts.readMetrics, entityID)
	if err != nil {
		return nil, fmt.Errorf("read metrics %s: %w", def.MetricTable, err)
	}
	defer rows.Close()

	var out []metric.Record
	for rows.Next() {
		var (
			timeframe string
			ageGroup  sql.NullString
			updatedAt time.Time
		)
		values := make([]int64, len(def.Counters))
		dest := make([]interface{}, 0, len(values)+3)
		dest = append(dest, &timeframe)
		for i := range values {
			dest = append(dest, &values[i])
		}
		dest = append(dest, &ageGroup, &updatedAt)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("read metrics %s: scan row: %w", def.MetricTable, err)
		}

		counters := make(metric.Counters, len(def.Counters))
		for i, name := range def.Counters {
			counters[name] = values[i]
		}
		out = append(out, metric.Record{
			EntityID:  entityID,
			Timeframe: metric.Timeframe(timeframe),
			Counters:  counters,
			AgeGroup:  metric.Timeframe(ageGroup.String),
			UpdatedAt: updatedAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read metrics %s: iterate rows: %w", def.MetricTable, err)
	}

	order := make(map[metric.Timeframe]int, len(metric.Timeframes))
	for i, tf := range metric.Timeframes {
		order[tf] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Timeframe] < order[out[j].Timeframe] })
	return out, nil
}
