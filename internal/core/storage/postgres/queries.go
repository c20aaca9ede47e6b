package postgres

// SQL for the engine-owned bookkeeping tables. Metric, decay and rank statements
// depend on the processor definition and are built in sqlbuild.go.

const (
	// queryReadCursor returns the last committed run time of one processor.
	queryReadCursor = `SELECT last_update FROM processor_cursors WHERE name = $1`

	// queryWriteCursor upserts the cursor. Only called at commit.
	queryWriteCursor = `
		INSERT INTO processor_cursors (name, last_update, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			last_update = EXCLUDED.last_update,
			updated_at  = EXCLUDED.updated_at
	`

	queryListCursors = `SELECT name, last_update FROM processor_cursors ORDER BY name`

	// queryEnqueueDirty inserts ids for one entity type. Re-enqueueing an id bumps
	// enqueued_at so an in-flight run's Ack does not remove it. clock_timestamp()
	// is the statement's wall clock, not the start of an enclosing transaction.
	queryEnqueueDirty = `
		INSERT INTO metric_dirty_queue (entity_type, entity_id, enqueued_at)
		SELECT $1, id, clock_timestamp() FROM unnest($2::bigint[]) AS id
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET enqueued_at = EXCLUDED.enqueued_at
	`

	// queryPeekDirty snapshots the queue of one entity type.
	queryPeekDirty = `
		SELECT entity_id, enqueued_at
		FROM metric_dirty_queue
		WHERE entity_type = $1
		ORDER BY entity_id
	`

	// queryAckDirty removes snapshotted ids that were not re-enqueued since.
	queryAckDirty = `
		DELETE FROM metric_dirty_queue
		WHERE entity_type = $1
		  AND entity_id = ANY($2::bigint[])
		  AND enqueued_at <= $3
	`

	// queryReplicationLag is zero on a primary, where no replay timestamp exists.
	queryReplicationLag = `
		SELECT COALESCE(EXTRACT(EPOCH FROM (now() - pg_last_xact_replay_timestamp())), 0)::float8
	`

	queryTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)
	`
)
