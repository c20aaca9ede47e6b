package redisstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/aevon-lab/tally/internal/core/storage"
)

// DefaultStreamMaxLen caps each affected stream when no limit is configured.
const DefaultStreamMaxLen = 10000

// AffectedStream publishes committed affected ids to "<prefix>:<entityType>"
// for downstream consumers such as the search indexer.
type AffectedStream struct {
	rdb    *redis.Client
	prefix string
	maxLen int64
}

var _ storage.AffectedSink = (*AffectedStream)(nil)

// NewAffectedStream creates the sink. maxLen <= 0 uses DefaultStreamMaxLen.
func NewAffectedStream(rdb *redis.Client, prefix string, maxLen int64) *AffectedStream {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &AffectedStream{rdb: rdb, prefix: prefix, maxLen: maxLen}
}

// StreamKey returns the stream an entity type's ids are published to.
func (s *AffectedStream) StreamKey(entityType string) string {
	return fmt.Sprintf("%s:%s", s.prefix, entityType)
}

// Report appends one entry carrying every id of the run.
func (s *AffectedStream) Report(ctx context.Context, processor, entityType string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	encoded := make([]string, len(ids))
	for i, id := range ids {
		encoded[i] = strconv.FormatInt(id, 10)
	}

	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.StreamKey(entityType),
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"processor": processor,
			"count":     len(ids),
			"ids":       strings.Join(encoded, ","),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("report affected %s: %w", entityType, err)
	}

	slog.Debug("[Redis] Affected ids published", "stream", s.StreamKey(entityType), "entry", id, "count", len(ids))
	return nil
}
