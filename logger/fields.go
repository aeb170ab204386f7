package logger

// Standard field names for consistent structured logging across enrichd.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID    = "job_id"
	FieldUserID   = "user_id"
	FieldClientID = "client_id"

	// Components
	FieldComponent = "component"
	FieldWorkerID  = "worker_id"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts
	FieldCount          = "count"
	FieldTotalCount     = "total_count"
	FieldProcessedCount = "processed_count"

	// Status
	FieldStatus = "status"
	FieldState  = "state"
)
