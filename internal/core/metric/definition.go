package metric

import "fmt"

// Signal is one independent change source. Query selects DISTINCT entity ids
// changed after the cursor, bound as the only parameter.
type Signal struct {
	Name  string
	Query string
}

// Family is one aggregation query computing a group of counters for a batch.
// It returns long-form rows (entity_id, counter, day, week, month, year, all_time).
// Parameters: ids, min id, max id and, when Windowed, the Day/Week/Month/Year
// lower bounds in that order.
type Family struct {
	Name     string
	Query    string
	Windowed bool
}

// RankColumn is one ordinal rank derived from a counter in one timeframe.
// Rank 1 is the highest value; ties break on ascending entity id.
type RankColumn struct {
	Column    string
	Counter   string
	Timeframe Timeframe
}

// Definition describes one named processor: where its signals come from, how its
// counters are computed and which tables it owns.
type Definition struct {
	Name       string
	EntityType string

	MetricTable string
	RankTable   string

	// EntityTable/EntityCreatedColumn locate the source entity's creation time,
	// used for the age group of a metric row.
	EntityTable         string
	EntityCreatedColumn string

	Counters []string

	Signals          []Signal
	AnalyticsSignals []Signal

	Families          []Family
	AnalyticsFamilies []Family

	// Sparse processors only write rows with a non-zero counter. A count that
	// drops to zero keeps its stale value until the row is cleaned up elsewhere.
	Sparse bool

	Ranks []RankColumn
}

// HasCounter reports whether name is one of the definition's counters.
func (d Definition) HasCounter(name string) bool {
	for _, c := range d.Counters {
		if c == name {
			return true
		}
	}
	return false
}

// Validate checks the definition is internally consistent.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("definition: name is required")
	}
	if d.EntityType == "" {
		return fmt.Errorf("definition %q: entity type is required", d.Name)
	}
	if d.MetricTable == "" || d.EntityTable == "" || d.EntityCreatedColumn == "" {
		return fmt.Errorf("definition %q: metric and entity tables are required", d.Name)
	}
	if len(d.Counters) == 0 {
		return fmt.Errorf("definition %q: at least one counter is required", d.Name)
	}
	if len(d.Signals)+len(d.AnalyticsSignals) == 0 {
		return fmt.Errorf("definition %q: at least one signal is required", d.Name)
	}
	if len(d.Families)+len(d.AnalyticsFamilies) == 0 {
		return fmt.Errorf("definition %q: at least one family is required", d.Name)
	}
	if len(d.Ranks) > 0 && d.RankTable == "" {
		return fmt.Errorf("definition %q: rank columns need a rank table", d.Name)
	}
	for _, r := range d.Ranks {
		if !d.HasCounter(r.Counter) {
			return fmt.Errorf("definition %q: rank %q uses unknown counter %q", d.Name, r.Column, r.Counter)
		}
		if !r.Timeframe.Valid() {
			return fmt.Errorf("definition %q: rank %q has invalid timeframe %q", d.Name, r.Column, r.Timeframe)
		}
	}
	return nil
}

// WithoutAnalytics returns a copy with analytics-store signals and families
// removed, for deployments that run without the columnar store.
func (d Definition) WithoutAnalytics() Definition {
	d.AnalyticsSignals = nil
	d.AnalyticsFamilies = nil
	return d
}
