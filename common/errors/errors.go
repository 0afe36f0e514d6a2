package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error represents an application error. Reason is a stable machine-readable
// code; Code is the HTTP status the error maps to.
type Error struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same HTTP code and reason, so sentinel values
// can be compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

// New creates a new Error
func New(code int, reason, message string, err error) *Error {
	return &Error{
		Code:    code,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

func Validation(reason, message string) *Error {
	return New(http.StatusBadRequest, reason, message, nil)
}

func NotFound(reason, message string) *Error {
	return New(http.StatusNotFound, reason, message, nil)
}

func Conflict(reason, message string) *Error {
	return New(http.StatusConflict, reason, message, nil)
}

func Unauthorized(reason, message string) *Error {
	return New(http.StatusUnauthorized, reason, message, nil)
}

func NotImplemented(reason, message string) *Error {
	return New(http.StatusNotImplemented, reason, message, nil)
}

// Dependency wraps a failure of an external collaborator.
func Dependency(reason, message string, err error) *Error {
	return New(http.StatusBadGateway, reason, message, err)
}

func Internal(message string, err error) *Error {
	return New(http.StatusInternalServerError, "INTERNAL", message, err)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// ReasonOf returns the reason of the first *Error in err's chain, or "".
func ReasonOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Reason
	}
	return ""
}

// From converts any error into an *Error, defaulting to an internal error.
func From(err error) *Error {
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal("Internal server error", err)
}

// Common error types
var (
	ErrBadRequest   = New(http.StatusBadRequest, "BAD_REQUEST", "Bad request", nil)
	ErrUnauthorized = New(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	ErrForbidden    = New(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	ErrNotFound     = New(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
)

// ErrorMiddleware renders the last error pushed with c.Error.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		appErr := From(c.Errors.Last().Err)
		body := gin.H{"error": appErr.Message, "reason": appErr.Reason}
		if appErr.Code >= http.StatusInternalServerError {
			body["error"] = http.StatusText(appErr.Code)
		}
		c.AbortWithStatusJSON(appErr.Code, body)
	}
}
