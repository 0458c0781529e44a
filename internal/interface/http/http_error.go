package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yanqian/faq-pipeline/pkg/errors"
)

// HTTPError is the response shape for every failed request.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// NewHTTPError builds an HTTPError.
func NewHTTPError(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

// appErrorStatus maps domain codes that callers can act on. Anything else is
// reported as an internal error without leaking the cause.
var appErrorStatus = map[string]struct {
	status  int
	message string
}{
	apperrors.CodeInvalidInput:  {http.StatusBadRequest, ""},
	apperrors.CodeRunInProgress: {http.StatusConflict, "a pipeline run is already active"},
	apperrors.CodeStore:         {http.StatusServiceUnavailable, "storage unavailable"},
}

// fromAppError maps domain error codes onto HTTP statuses. fallbackCode names
// the failed operation when the code is not client-actionable.
func fromAppError(err error, fallbackCode string) *HTTPError {
	code := apperrors.CodeOf(err)
	mapped, ok := appErrorStatus[code]
	if !ok {
		return NewHTTPError(http.StatusInternalServerError, fallbackCode, "something went wrong", err)
	}
	if code == apperrors.CodeInvalidInput {
		return NewHTTPError(mapped.status, "invalid_request", errMessage(err), err)
	}
	return NewHTTPError(mapped.status, code, mapped.message, err)
}

func asHTTPError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return fromAppError(err, "internal_error")
}

func abortWithError(c *gin.Context, err *HTTPError) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
