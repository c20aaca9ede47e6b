package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corecfg "github.com/aevon-lab/tally/internal/core/config"
)

func TestEnabledDefinitions(t *testing.T) {
	cfg := corecfg.AggregationConfig{Processors: map[string]corecfg.ProcessorConfig{
		"post":  {Enabled: true},
		"image": {Enabled: true},
		"tag":   {Enabled: false},
	}}

	defs, err := enabledDefinitions(cfg, false)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "image", defs[0].Name)
	assert.Equal(t, "post", defs[1].Name)
	assert.Empty(t, defs[0].AnalyticsSignals)
	assert.Empty(t, defs[0].AnalyticsFamilies)

	withViews, err := enabledDefinitions(cfg, true)
	require.NoError(t, err)
	assert.NotEmpty(t, withViews[0].AnalyticsSignals)
}

func TestEnabledDefinitions_Errors(t *testing.T) {
	_, err := enabledDefinitions(corecfg.AggregationConfig{Processors: map[string]corecfg.ProcessorConfig{
		"video": {Enabled: true},
	}}, false)
	assert.ErrorContains(t, err, "video")

	_, err = enabledDefinitions(corecfg.AggregationConfig{}, false)
	assert.Error(t, err)
}

func TestSchedulesSkipDisabledProcessors(t *testing.T) {
	intervals, ranks := schedules(corecfg.AggregationConfig{Processors: map[string]corecfg.ProcessorConfig{
		"image": {Enabled: true, Interval: "1m", RankSchedule: "0 * * * *"},
		"tag":   {Enabled: false, Interval: "5m"},
	}})

	assert.Equal(t, map[string]time.Duration{"image": time.Minute}, intervals)
	assert.Equal(t, map[string]string{"image": "0 * * * *"}, ranks)
}

func TestEntityTypesAreDistinct(t *testing.T) {
	cfg := corecfg.AggregationConfig{Processors: map[string]corecfg.ProcessorConfig{
		"image": {Enabled: true},
		"post":  {Enabled: true},
		"model": {Enabled: true},
		"tag":   {Enabled: true},
	}}
	defs, err := enabledDefinitions(cfg, true)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"image", "post", "model", "tag"}, entityTypes(defs))
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(corecfg.LogConfig{Level: "warn", Format: "json"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	fallback := newLogger(corecfg.LogConfig{Level: "loud"})
	assert.True(t, fallback.Enabled(context.Background(), slog.LevelInfo))
}
