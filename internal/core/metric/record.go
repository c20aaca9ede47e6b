package metric

import (
	"sort"
	"time"
)

// Key uniquely identifies a metric row.
type Key struct {
	EntityID  int64
	Timeframe Timeframe
}

// Counters maps counter column name to its value.
type Counters map[string]int64

// Record is one metric row: the counters of one entity over one timeframe.
type Record struct {
	EntityID  int64     `json:"entity_id"`
	Timeframe Timeframe `json:"timeframe"`
	Counters  Counters  `json:"counters"`
	AgeGroup  Timeframe `json:"age_group,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WindowRow is the long-form output of an aggregation family: one counter of
// one entity with its value in every timeframe.
type WindowRow struct {
	EntityID int64
	Counter  string
	Values   map[Timeframe]int64
}

// NewWindowRow builds a WindowRow from values ordered like Timeframes.
func NewWindowRow(entityID int64, counter string, day, week, month, year, allTime int64) WindowRow {
	return WindowRow{
		EntityID: entityID,
		Counter:  counter,
		Values: map[Timeframe]int64{
			Day:     day,
			Week:    week,
			Month:   month,
			Year:    year,
			AllTime: allTime,
		},
	}
}

// Snapshot is the freshly computed state of one batch, keyed by (entity, timeframe).
type Snapshot map[Key]Counters

// Merge folds long-form rows into the snapshot. Rows for the same key and
// counter overwrite each other; families are expected to own disjoint counters.
func (s Snapshot) Merge(rows []WindowRow) {
	for _, row := range rows {
		for tf, v := range row.Values {
			key := Key{EntityID: row.EntityID, Timeframe: tf}
			c, ok := s[key]
			if !ok {
				c = make(Counters)
				s[key] = c
			}
			if v < 0 {
				v = 0
			}
			c[row.Counter] = v
		}
	}
}

// Densify makes sure every id has a row for every timeframe carrying every
// counter, filling the gaps with zero.
func (s Snapshot) Densify(ids []int64, counters []string) {
	for _, id := range ids {
		for _, tf := range Timeframes {
			key := Key{EntityID: id, Timeframe: tf}
			c, ok := s[key]
			if !ok {
				c = make(Counters, len(counters))
				s[key] = c
			}
			for _, name := range counters {
				if _, set := c[name]; !set {
					c[name] = 0
				}
			}
		}
	}
}

// DropZero removes rows whose counters are all zero. Used by sparse processors.
func (s Snapshot) DropZero() {
	for key, c := range s {
		if c.IsZero() {
			delete(s, key)
		}
	}
}

// Records flattens the snapshot into records sorted by (entity, timeframe order).
// Missing counters are written as zero so every record carries the full column set.
func (s Snapshot) Records(counters []string, updatedAt time.Time) []Record {
	out := make([]Record, 0, len(s))
	for key, c := range s {
		full := make(Counters, len(counters))
		for _, name := range counters {
			full[name] = c[name]
		}
		out = append(out, Record{
			EntityID:  key.EntityID,
			Timeframe: key.Timeframe,
			Counters:  full,
			UpdatedAt: updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return timeframeIndex(out[i].Timeframe) < timeframeIndex(out[j].Timeframe)
	})
	return out
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool {
	for _, v := range c {
		if v != 0 {
			return false
		}
	}
	return true
}

func timeframeIndex(t Timeframe) int {
	for i, tf := range Timeframes {
		if tf == t {
			return i
		}
	}
	return len(Timeframes)
}
