//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/aevon-lab/tally/internal/api/v1"
	"github.com/aevon-lab/tally/internal/core/metric"
)

func TestLifecycle_ClearDayAndRanks(t *testing.T) {
	h := startHarness(t)
	defer h.close(t)

	now := time.Now().UTC()
	// 301 ages out of the Day group between the upsert and the clear.
	insertPost(t, h.db, 301, now.Add(-24*time.Hour+5*time.Second))
	insertPost(t, h.db, 302, now.Add(-time.Hour))
	for i := 0; i < 3; i++ {
		insertReaction(t, h.db, 301, "Like", now.Add(-time.Minute))
	}
	insertReaction(t, h.db, 302, "Like", now.Add(-time.Minute))

	status, body := postJSON(t, h.client, h.baseURL+"/v1/processors/post/update", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = postJSON(t, h.client, h.baseURL+"/v1/processors/post/refresh-ranks", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var first, second int64
	require.NoError(t, h.db.QueryRow(`SELECT like_count_day_rank FROM post_ranks WHERE entity_id = 301`).Scan(&first))
	require.NoError(t, h.db.QueryRow(`SELECT like_count_day_rank FROM post_ranks WHERE entity_id = 302`).Scan(&second))
	require.Equal(t, int64(1), first)
	require.Equal(t, int64(2), second)

	time.Sleep(6 * time.Second)

	status, body = postJSON(t, h.client, h.baseURL+"/v1/processors/post/clear-day", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var cleared v1.ClearDayResponse
	require.NoError(t, json.Unmarshal(body, &cleared))
	require.Equal(t, int64(5), cleared.Rows)

	aged := getMetrics(t, h, "post", 301)
	counters := byTimeframe(aged)
	require.Equal(t, int64(0), counters[metric.Day]["like_count"])
	require.Equal(t, int64(3), counters[metric.Week]["like_count"])
	require.Equal(t, string(metric.Week), aged.Rows[0].AgeGroup)

	fresh := byTimeframe(getMetrics(t, h, "post", 302))
	require.Equal(t, int64(1), fresh[metric.Day]["like_count"])
}

func TestLifecycle_ClearDayZeroesStaleDayOfOldPost(t *testing.T) {
	h := startHarness(t)
	defer h.close(t)

	now := time.Now().UTC()
	insertPost(t, h.db, 401, now.Add(-400*24*time.Hour))
	insertReaction(t, h.db, 401, "Like", now.Add(-time.Minute))

	status, body := postJSON(t, h.client, h.baseURL+"/v1/processors/post/update", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	require.Equal(t, int64(1), byTimeframe(getMetrics(t, h, "post", 401))[metric.Day]["like_count"])

	// Nothing touched 401 for more than a day.
	_, err := h.db.Exec(`UPDATE post_metrics SET updated_at = $1 WHERE entity_id = 401`, now.Add(-25*time.Hour))
	require.NoError(t, err)

	status, body = postJSON(t, h.client, h.baseURL+"/v1/processors/post/clear-day", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var cleared v1.ClearDayResponse
	require.NoError(t, json.Unmarshal(body, &cleared))
	require.Equal(t, int64(1), cleared.Rows)

	old := getMetrics(t, h, "post", 401)
	counters := byTimeframe(old)
	require.Equal(t, int64(0), counters[metric.Day]["like_count"])
	require.Equal(t, int64(1), counters[metric.AllTime]["like_count"])
	require.Equal(t, string(metric.AllTime), old.Rows[0].AgeGroup)
}

func TestLifecycle_StatusReportsCursor(t *testing.T) {
	h := startHarness(t)
	defer h.close(t)

	status, body := postJSON(t, h.client, h.baseURL+"/v1/processors/post/update", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	resp, err := h.client.Get(h.baseURL + "/v1/processors")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Processors []struct {
			Name        string    `json:"name"`
			Phase       string    `json:"phase"`
			Cursor      time.Time `json:"cursor"`
			LastOutcome string    `json:"last_outcome"`
		} `json:"processors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Processors, 1)
	require.Equal(t, "post", out.Processors[0].Name)
	require.Equal(t, "idle", out.Processors[0].Phase)
	require.Equal(t, "committed", out.Processors[0].LastOutcome)
	require.False(t, out.Processors[0].Cursor.IsZero())
}
