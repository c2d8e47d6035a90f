package handlers

// Machine-readable error codes carried in every ErrorResponse. Generic codes
// mirror HTTP status semantics; the domain codes below them name the operation
// that failed when the status alone is ambiguous.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	ErrCodeTurnFailed       = "turn_failed"
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeResumeFailed     = "resume_failed"
	ErrCodeRetryFailed      = "retry_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
