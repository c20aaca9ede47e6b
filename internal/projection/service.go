package projection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	v1 "github.com/aevon-lab/tally/internal/api/v1"
	"github.com/aevon-lab/tally/internal/core/metric"
	"github.com/aevon-lab/tally/internal/core/storage"
)

var (
	// ErrInvalidQuery marks request validation errors that should return HTTP 400.
	ErrInvalidQuery = errors.New("invalid metrics query")
	// ErrNotFound is returned when the entity has no metric rows yet.
	ErrNotFound = errors.New("no metrics for entity")
)

// MetricReader reads the stored rows of one entity.
type MetricReader interface {
	ReadMetrics(ctx context.Context, processor string, entityID int64) ([]metric.Record, error)
}

// Definitions resolves processor names. Unknown names return an error wrapping
// the registry's unknown-processor sentinel.
type Definitions interface {
	Definition(name string) (metric.Definition, error)
}

// Service implements the read side: the stored counters of one entity plus how
// far behind the processor's committed cursor they may be.
type Service struct {
	reader  MetricReader
	cursors storage.CursorStore
	defs    Definitions
	nowFn   func() time.Time
}

func NewService(reader MetricReader, cursors storage.CursorStore, defs Definitions) *Service {
	return &Service{reader: reader, cursors: cursors, defs: defs, nowFn: time.Now}
}

// QueryMetrics returns the rows of one entity, optionally filtered to one timeframe.
func (s *Service) QueryMetrics(ctx context.Context, req MetricsQueryRequest) (*v1.MetricsResponse, error) {
	if _, err := s.defs.Definition(req.Processor); err != nil {
		return nil, err
	}

	entityID, err := strconv.ParseInt(req.EntityID, 10, 64)
	if err != nil || entityID <= 0 {
		return nil, fmt.Errorf("%w: id must be a positive integer, got %q", ErrInvalidQuery, req.EntityID)
	}

	var only metric.Timeframe
	if req.Timeframe != "" {
		only, err = metric.ParseTimeframe(req.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}

	records, err := s.reader.ReadMetrics(ctx, req.Processor, entityID)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}

	rows := make([]v1.MetricRow, 0, len(records))
	for _, rec := range records {
		if only != "" && rec.Timeframe != only {
			continue
		}
		rows = append(rows, v1.MetricRow{
			Timeframe: string(rec.Timeframe),
			Counters:  rec.Counters,
			AgeGroup:  string(rec.AgeGroup),
			UpdatedAt: rec.UpdatedAt,
		})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %d", ErrNotFound, req.Processor, entityID)
	}

	cursor, err := s.cursors.ReadCursor(ctx, req.Processor)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	resp := &v1.MetricsResponse{
		Processor:   req.Processor,
		EntityID:    entityID,
		DataThrough: cursor,
		Rows:        rows,
	}
	if !cursor.IsZero() {
		resp.StalenessSeconds = int(s.nowFn().Sub(cursor).Seconds())
	}
	return resp, nil
}
