package redisstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aevon-lab/tally/internal/core/storage"
)

// ackScript removes each member whose score is still at or below the cutoff,
// leaving ids re-enqueued after the snapshot in place.
var ackScript = redis.NewScript(`
local removed = 0
for i = 2, #ARGV do
	local score = redis.call('ZSCORE', KEYS[1], ARGV[i])
	if score and tonumber(score) <= tonumber(ARGV[1]) then
		redis.call('ZREM', KEYS[1], ARGV[i])
		removed = removed + 1
	end
end
return removed
`)

// DirtyQueue keeps one sorted set per entity type; the score is the enqueue
// time in microseconds, so re-enqueueing an id bumps it past any snapshot.
type DirtyQueue struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

var _ storage.DirtyQueue = (*DirtyQueue)(nil)

// NewDirtyQueue creates a queue whose keys are "<prefix>:dirty:<entityType>".
func NewDirtyQueue(rdb *redis.Client, prefix string) *DirtyQueue {
	return &DirtyQueue{rdb: rdb, prefix: prefix, now: time.Now}
}

func (q *DirtyQueue) key(entityType string) string {
	return fmt.Sprintf("%s:dirty:%s", q.prefix, entityType)
}

// Enqueue adds ids scored by the enqueue time; re-adding an id bumps its score.
func (q *DirtyQueue) Enqueue(ctx context.Context, entityType string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	score := float64(q.now().UnixMicro())
	members := make([]redis.Z, len(ids))
	for i, id := range ids {
		members[i] = redis.Z{Score: score, Member: strconv.FormatInt(id, 10)}
	}
	if err := q.rdb.ZAdd(ctx, q.key(entityType), members...).Err(); err != nil {
		return fmt.Errorf("enqueue dirty %s: %w", entityType, err)
	}
	slog.Debug("[Redis] Enqueued dirty ids", "entity_type", entityType, "count", len(ids))
	return nil
}

// Peek snapshots every queued id and the newest score as the batch cutoff.
func (q *DirtyQueue) Peek(ctx context.Context, entityType string) (storage.DirtyBatch, error) {
	entries, err := q.rdb.ZRangeWithScores(ctx, q.key(entityType), 0, -1).Result()
	if err != nil {
		return storage.DirtyBatch{}, fmt.Errorf("peek dirty %s: %w", entityType, err)
	}

	var (
		batch    storage.DirtyBatch
		maxScore float64
	)
	for _, z := range entries {
		member, ok := z.Member.(string)
		if !ok {
			return storage.DirtyBatch{}, fmt.Errorf("peek dirty %s: unexpected member %v", entityType, z.Member)
		}
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return storage.DirtyBatch{}, fmt.Errorf("peek dirty %s: parse id %q: %w", entityType, member, err)
		}
		batch.IDs = append(batch.IDs, id)
		if z.Score > maxScore {
			maxScore = z.Score
		}
	}
	sort.Slice(batch.IDs, func(i, j int) bool { return batch.IDs[i] < batch.IDs[j] })
	if len(batch.IDs) > 0 {
		batch.Cutoff = time.UnixMicro(int64(maxScore)).UTC()
	}
	return batch, nil
}

// Ack removes the snapshot ids whose score is not newer than the batch cutoff.
func (q *DirtyQueue) Ack(ctx context.Context, entityType string, batch storage.DirtyBatch) error {
	if batch.Empty() {
		return nil
	}
	args := make([]interface{}, 0, len(batch.IDs)+1)
	args = append(args, batch.Cutoff.UnixMicro())
	for _, id := range batch.IDs {
		args = append(args, strconv.FormatInt(id, 10))
	}

	removed, err := ackScript.Run(ctx, q.rdb, []string{q.key(entityType)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("ack dirty %s: %w", entityType, err)
	}
	slog.Debug("[Redis] Acked dirty ids", "entity_type", entityType, "removed", removed, "snapshot", len(batch.IDs))
	return nil
}
