package processors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/tally/internal/core/metric"
)

func TestAll_DefinitionsAreValid(t *testing.T) {
	seen := make(map[string]bool)
	for _, def := range All() {
		require.NoError(t, def.Validate(), def.Name)
		assert.False(t, seen[def.Name], "duplicate processor %s", def.Name)
		seen[def.Name] = true
	}
	assert.Len(t, seen, 4)
}

func TestAll_FamilyParametersFollowContract(t *testing.T) {
	for _, def := range All() {
		for _, fam := range def.Families {
			name := def.Name + "/" + fam.Name
			for p := 1; p <= 3; p++ {
				assert.Contains(t, fam.Query, fmt.Sprintf("$%d", p), name)
			}
			if fam.Windowed {
				assert.Contains(t, fam.Query, "$7", name)
			} else {
				assert.NotContains(t, fam.Query, "$4", name)
			}
			assert.NotContains(t, fam.Query, "$8", name)
		}
	}
}

func TestAll_FamiliesOnlyEmitKnownCounters(t *testing.T) {
	for _, def := range All() {
		emitted := make(map[string]bool)
		for _, fam := range append(append([]metric.Family{}, def.Families...), def.AnalyticsFamilies...) {
			for _, c := range def.Counters {
				if strings.Contains(fam.Query, "'"+c+"'") {
					emitted[c] = true
				}
			}
		}
		for _, c := range def.Counters {
			assert.True(t, emitted[c], "%s: counter %s is never computed", def.Name, c)
		}
	}
}

func TestAll_SignalsBindCursor(t *testing.T) {
	for _, def := range All() {
		for _, sig := range def.Signals {
			assert.Contains(t, sig.Query, "$1", def.Name+"/"+sig.Name)
		}
		for _, sig := range def.AnalyticsSignals {
			assert.Equal(t, 1, strings.Count(sig.Query, "?"), def.Name+"/"+sig.Name)
		}
	}
}

func TestTag_IsSparse(t *testing.T) {
	assert.True(t, Tag().Sparse)
	assert.False(t, Image().Sparse)
}

func TestImage_WithoutAnalyticsDropsViews(t *testing.T) {
	def := Image().WithoutAnalytics()
	assert.Empty(t, def.AnalyticsSignals)
	assert.Empty(t, def.AnalyticsFamilies)
	require.NoError(t, def.Validate())
}

func TestRankColumns(t *testing.T) {
	cols := rankColumns("like_count", metric.Day, metric.AllTime)
	require.Len(t, cols, 2)
	assert.Equal(t, "like_count_day_rank", cols[0].Column)
	assert.Equal(t, "like_count_alltime_rank", cols[1].Column)
	assert.Equal(t, metric.AllTime, cols[1].Timeframe)
}

func TestWindowedFamily(t *testing.T) {
	q := windowedFamily("c.image_id", "comments c", "c.created_at", "c.hidden = false", count("comment_count"))
	assert.Contains(t, q, "c.image_id = ANY($1) AND c.image_id BETWEEN $2 AND $3 AND c.hidden = false")
	assert.Contains(t, q, "FILTER (WHERE c.created_at >= $4)")
	assert.Contains(t, q, "FILTER (WHERE c.created_at >= $7)")
	assert.Contains(t, q, "('comment_count', 1::bigint)")
}
