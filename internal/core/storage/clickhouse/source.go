package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/aevon-lab/tally/internal/core/metric"
	"github.com/aevon-lab/tally/internal/core/partition"
	"github.com/aevon-lab/tally/internal/core/storage"
)

// rowScanner is the subset of driver.Rows the source reads.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type queryFunc func(ctx context.Context, query string, args ...any) (rowScanner, error)

// AnalyticsSource serves the analytics signals and families of each definition.
//
// Signal queries bind the cursor as the only `?`. Family queries bind, in order,
// the batch ids, min id, max id and, when windowed, the four rolling lower
// bounds; name them once in a leading `WITH ? AS ids, ? AS lo, ...` clause.
// Families return (entity_id Int64, counter String, day, week, month, year,
// all_time UInt64).
type AnalyticsSource struct {
	query queryFunc
	defs  map[string]metric.Definition
}

var (
	_ storage.SignalSource = (*AnalyticsSource)(nil)
	_ storage.FamilySource = (*AnalyticsSource)(nil)
)

// NewAnalyticsSource wraps an open connection.
func NewAnalyticsSource(conn driver.Conn, defs []metric.Definition) *AnalyticsSource {
	return newAnalyticsSource(func(ctx context.Context, query string, args ...any) (rowScanner, error) {
		return conn.Query(ctx, query, args...)
	}, defs)
}

func newAnalyticsSource(query queryFunc, defs []metric.Definition) *AnalyticsSource {
	s := &AnalyticsSource{query: query, defs: make(map[string]metric.Definition, len(defs))}
	for _, def := range defs {
		s.defs[def.Name] = def
	}
	return s
}

func (s *AnalyticsSource) Signals(processor string) []string {
	def := s.defs[processor]
	names := make([]string, len(def.AnalyticsSignals))
	for i, sig := range def.AnalyticsSignals {
		names[i] = sig.Name
	}
	return names
}

func (s *AnalyticsSource) ResolveSignal(ctx context.Context, processor, signal string, cursor time.Time) ([]int64, error) {
	def, ok := s.defs[processor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoDefinition, processor)
	}
	for _, sig := range def.AnalyticsSignals {
		if sig.Name != signal {
			continue
		}
		rows, err := s.query(ctx, sig.Query, cursor)
		if err != nil {
			return nil, fmt.Errorf("analytics signal %s/%s: %w", processor, signal, err)
		}
		defer rows.Close()

		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("analytics signal %s/%s: scan row: %w", processor, signal, err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("analytics signal %s/%s: iterate rows: %w", processor, signal, err)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("analytics signal %s/%s: not defined", processor, signal)
}

func (s *AnalyticsSource) Families(processor string) []string {
	def := s.defs[processor]
	names := make([]string, len(def.AnalyticsFamilies))
	for i, f := range def.AnalyticsFamilies {
		names[i] = f.Name
	}
	return names
}

func (s *AnalyticsSource) ComputeFamily(
	ctx context.Context,
	processor string,
	family string,
	batch partition.Batch,
	bounds metric.WindowBounds,
) ([]metric.WindowRow, error) {
	def, ok := s.defs[processor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoDefinition, processor)
	}

	var fam *metric.Family
	for i := range def.AnalyticsFamilies {
		if def.AnalyticsFamilies[i].Name == family {
			fam = &def.AnalyticsFamilies[i]
			break
		}
	}
	if fam == nil {
		return nil, fmt.Errorf("analytics family %s/%s: not defined", processor, family)
	}

	rows, err := s.query(ctx, fam.Query, familyArgs(*fam, batch, bounds)...)
	if err != nil {
		return nil, fmt.Errorf("analytics family %s/%s: %w", processor, family, err)
	}
	defer rows.Close()

	var out []metric.WindowRow
	for rows.Next() {
		var (
			entityID                           int64
			counter                            string
			day, week, month, year, allTimeVal uint64
		)
		if err := rows.Scan(&entityID, &counter, &day, &week, &month, &year, &allTimeVal); err != nil {
			return nil, fmt.Errorf("analytics family %s/%s: scan row: %w", processor, family, err)
		}
		if !def.HasCounter(counter) {
			return nil, fmt.Errorf("analytics family %s/%s: unknown counter %q", processor, family, counter)
		}
		out = append(out, metric.NewWindowRow(entityID, counter,
			clampCount(day), clampCount(week), clampCount(month), clampCount(year), clampCount(allTimeVal)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics family %s/%s: iterate rows: %w", processor, family, err)
	}
	return out, nil
}

func familyArgs(fam metric.Family, batch partition.Batch, bounds metric.WindowBounds) []any {
	args := []any{batch.IDs, batch.Min, batch.Max}
	if fam.Windowed {
		for _, since := range bounds.Ordered() {
			args = append(args, since)
		}
	}
	return args
}

// clampCount converts a ClickHouse UInt64 count to the int64 counter columns.
func clampCount(v uint64) int64 {
	const maxInt64 = uint64(1<<63 - 1)
	if v > maxInt64 {
		return int64(maxInt64)
	}
	return int64(v)
}
