package errors

import "errors"

// Codes shared by the pipeline packages and the HTTP layer.
const (
	CodeInvalidInput        = "invalid_input"
	CodeDimensionMismatch   = "dimension_mismatch"
	CodeExtractionFailed    = "extraction_failed"
	CodeConsolidationFailed = "consolidation_failed"
	CodeEmbeddingFailed     = "embedding_failed"
	CodeStore               = "store_error"
	CodeRunInProgress       = "run_in_progress"
	CodeCircuitTripped      = "circuit_tripped"
	CodeMemoryCritical      = "memory_critical"
)

// AppError carries a stable code next to the human readable message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrap produces a new AppError instance.
func Wrap(code, message string, err error) error {
	return &AppError{Code: code, Message: message, Err: err}
}

// IsCode reports whether any AppError in the chain carries code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost AppError, or "" when there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
