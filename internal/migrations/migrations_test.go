package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/tally/internal/processors"
)

func TestMigrationFiles_ArePaired(t *testing.T) {
	names, err := fs.Glob(MigrationFiles, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestMigrationFiles_CoverBuiltinProcessors(t *testing.T) {
	raw, err := fs.ReadFile(MigrationFiles, "000001_init_tally.up.sql")
	require.NoError(t, err)
	schema := string(raw)

	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS processor_cursors")
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS metric_dirty_queue")

	for _, def := range processors.All() {
		metricTable := tableBody(t, schema, def.MetricTable)
		for _, counter := range def.Counters {
			assert.Contains(t, metricTable, " "+counter+" ", "%s lacks column %s", def.MetricTable, counter)
		}
		assert.Contains(t, metricTable, "PRIMARY KEY (entity_id, timeframe)")

		rankTable := tableBody(t, schema, def.RankTable)
		for _, rank := range def.Ranks {
			assert.Contains(t, rankTable, " "+rank.Column+" ", "%s lacks column %s", def.RankTable, rank.Column)
		}
	}
}

func tableBody(t *testing.T, schema, table string) string {
	t.Helper()
	start := strings.Index(schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	require.GreaterOrEqual(t, start, 0, "missing table %s", table)
	end := strings.Index(schema[start:], ");")
	require.Greater(t, end, 0)
	return schema[start : start+end]
}

func TestLatestVersion(t *testing.T) {
	version, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}
