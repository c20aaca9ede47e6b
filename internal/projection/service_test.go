package projection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/tally/internal/aggregation"
	"github.com/aevon-lab/tally/internal/core/metric"
)

var (
	testNow    = time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)
	testCursor = testNow.Add(-90 * time.Second)
)

type stubReader struct {
	records map[int64][]metric.Record
	err     error
}

func (s stubReader) ReadMetrics(_ context.Context, _ string, entityID int64) ([]metric.Record, error) {
	return s.records[entityID], s.err
}

type stubCursors struct {
	cursor time.Time
	err    error
}

func (s stubCursors) ReadCursor(context.Context, string) (time.Time, error) { return s.cursor, s.err }

func (s stubCursors) WriteCursor(context.Context, string, time.Time) error { return nil }

func (s stubCursors) ListCursors(context.Context) (map[string]time.Time, error) { return nil, nil }

type stubDefinitions map[string]metric.Definition

func (s stubDefinitions) Definition(name string) (metric.Definition, error) {
	def, ok := s[name]
	if !ok {
		return metric.Definition{}, fmt.Errorf("%w: %s", aggregation.ErrUnknownProcessor, name)
	}
	return def, nil
}

func testRecords() map[int64][]metric.Record {
	rows := make([]metric.Record, 0, len(metric.Timeframes))
	for i, tf := range metric.Timeframes {
		rows = append(rows, metric.Record{
			EntityID:  42,
			Timeframe: tf,
			Counters:  metric.Counters{"likes": int64(i + 1)},
			AgeGroup:  metric.Week,
			UpdatedAt: testCursor,
		})
	}
	return map[int64][]metric.Record{42: rows}
}

func newTestService(reader MetricReader, cursors stubCursors) *Service {
	svc := NewService(reader, cursors, stubDefinitions{"image": {Name: "image"}})
	svc.nowFn = func() time.Time { return testNow }
	return svc
}

func TestService_QueryMetrics_AllTimeframes(t *testing.T) {
	svc := newTestService(stubReader{records: testRecords()}, stubCursors{cursor: testCursor})

	resp, err := svc.QueryMetrics(context.Background(), MetricsQueryRequest{Processor: "image", EntityID: "42"})
	require.NoError(t, err)

	assert.Equal(t, int64(42), resp.EntityID)
	assert.Equal(t, testCursor, resp.DataThrough)
	assert.Equal(t, 90, resp.StalenessSeconds)
	require.Len(t, resp.Rows, len(metric.Timeframes))
	assert.Equal(t, "Day", resp.Rows[0].Timeframe)
	assert.Equal(t, int64(5), resp.Rows[4].Counters["likes"])
	assert.Equal(t, "Week", resp.Rows[0].AgeGroup)
}

func TestService_QueryMetrics_FiltersTimeframe(t *testing.T) {
	svc := newTestService(stubReader{records: testRecords()}, stubCursors{cursor: testCursor})

	resp, err := svc.QueryMetrics(context.Background(), MetricsQueryRequest{Processor: "image", EntityID: "42", Timeframe: "Month"})
	require.NoError(t, err)

	require.Len(t, resp.Rows, 1)
	assert.Equal(t, int64(3), resp.Rows[0].Counters["likes"])
}

func TestService_QueryMetrics_NeverCommittedHasNoStaleness(t *testing.T) {
	svc := newTestService(stubReader{records: testRecords()}, stubCursors{})

	resp, err := svc.QueryMetrics(context.Background(), MetricsQueryRequest{Processor: "image", EntityID: "42"})
	require.NoError(t, err)

	assert.True(t, resp.DataThrough.IsZero())
	assert.Zero(t, resp.StalenessSeconds)
}

func TestService_QueryMetrics_Errors(t *testing.T) {
	readErr := errors.New("connection reset")

	tests := []struct {
		name   string
		reader stubReader
		req    MetricsQueryRequest
		want   error
	}{
		{
			name: "unknown processor",
			req:  MetricsQueryRequest{Processor: "video", EntityID: "42"},
			want: aggregation.ErrUnknownProcessor,
		},
		{
			name: "non-numeric id",
			req:  MetricsQueryRequest{Processor: "image", EntityID: "abc"},
			want: ErrInvalidQuery,
		},
		{
			name: "non-positive id",
			req:  MetricsQueryRequest{Processor: "image", EntityID: "0"},
			want: ErrInvalidQuery,
		},
		{
			name: "bad timeframe",
			req:  MetricsQueryRequest{Processor: "image", EntityID: "42", Timeframe: "Decade"},
			want: ErrInvalidQuery,
		},
		{
			name:   "no rows",
			reader: stubReader{records: testRecords()},
			req:    MetricsQueryRequest{Processor: "image", EntityID: "7"},
			want:   ErrNotFound,
		},
		{
			name:   "reader failure",
			reader: stubReader{err: readErr},
			req:    MetricsQueryRequest{Processor: "image", EntityID: "42"},
			want:   readErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.reader, stubCursors{cursor: testCursor})
			_, err := svc.QueryMetrics(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
