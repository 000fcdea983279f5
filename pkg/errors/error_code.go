package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidRange         ErrorCode = 102
	ErrCodeInvalidAddress       ErrorCode = 103
	ErrCodeMissingParameter     ErrorCode = 104
	ErrCodeInsufficientData     ErrorCode = 105

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound     ErrorCode = 200
	ErrCodeStoreUnavailable ErrorCode = 201
	ErrCodeQueryFailed      ErrorCode = 202
	ErrCodeWriteFailed      ErrorCode = 203

	// Sync errors (300-399)
	ErrCodeSyncFailed         ErrorCode = 300
	ErrCodeSyncAlreadyRunning ErrorCode = 301
	ErrCodeWatermarkMissing   ErrorCode = 302

	// Data API errors (400-499)
	ErrCodeDataAPIRequestFailed ErrorCode = 400
	ErrCodeDataAPIBadStatus     ErrorCode = 401
	ErrCodeDataAPIParseFailed   ErrorCode = 402
	ErrCodeTradeUnidentifiable  ErrorCode = 403

	// Server errors (500-599)
	ErrCodeServerStartFailed ErrorCode = 500
	ErrCodeRenderFailed      ErrorCode = 501
)
