package v1

import "time"

// MetricRow is one timeframe of an entity's counters.
type MetricRow struct {
	Timeframe string           `json:"timeframe"`
	Counters  map[string]int64 `json:"counters"`
	AgeGroup  string           `json:"age_group,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// MetricsResponse is the stored state of one entity for one processor.
type MetricsResponse struct {
	Processor string `json:"processor"`
	EntityID  int64  `json:"entity_id"`
	// DataThrough is the processor's committed cursor: changes after it are not reflected yet.
	DataThrough      time.Time   `json:"data_through"`
	StalenessSeconds int         `json:"staleness_seconds"`
	Rows             []MetricRow `json:"rows"`
}

// ClearDayResponse reports a standalone day decay.
type ClearDayResponse struct {
	Processor string `json:"processor"`
	Rows      int64  `json:"rows"`
}

// RefreshRanksResponse reports a rank refresh.
type RefreshRanksResponse struct {
	Processor string `json:"processor"`
	Status    string `json:"status"`
}
