package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpInvalidRequestError   = "invalid_request"
	HttpUnknownProcessorError = "unknown_processor"
	HttpUnknownEntityError    = "unknown_entity_type"
	HttpRunInProgressError    = "run_in_progress"
	HttpRunCancelledError     = "run_cancelled"
	HttpNotFoundError         = "not_found"
)

// ErrorResponse is the error response body of every HTTP endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
