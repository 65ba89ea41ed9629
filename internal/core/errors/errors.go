package errors

const (
	HttpInternalError          = "internal_error"
	HttpInvalidJsonError       = "invalid_json"
	HttpInvalidQueryError      = "invalid_query"
	HttpSessionNotFoundError   = "session_not_found"
	HttpDuplicateSessionError  = "duplicate_session"
	HttpSessionTerminatedError = "session_terminated"
	HttpConflictingStopError   = "conflicting_stop"
	HttpTicketNotFoundError    = "ticket_not_found"
	HttpDisconnectTimeoutError = "disconnect_timeout"
	HttpQueryTimeoutError      = "query_timeout"
)

// ErrorResponse is the error response body for all API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
