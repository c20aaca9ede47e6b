package projection

// MetricsQueryRequest represents the path and query parameters of a metric read.
type MetricsQueryRequest struct {
	Processor string `uri:"processor" binding:"required"`
	EntityID  string `uri:"id" binding:"required"`
	Timeframe string `form:"timeframe"` // default: every timeframe
}
