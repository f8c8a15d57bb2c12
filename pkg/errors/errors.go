// Package errors provides the coded error type shared by every quarry layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyExists    = "ALREADY_EXISTS"
	CodeQueryFailed      = "QUERY_FAILED"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeMetadataFailed   = "METADATA_FAILED"
	CodeUpstreamFailed   = "UPSTREAM_FAILED"
	CodeLLMFailed        = "LLM_FAILED"
	CodeUnsafeStatement  = "UNSAFE_STATEMENT"
	CodeInternal         = "INTERNAL_ERROR"
	CodeUnavailable      = "UNAVAILABLE"
	CodeDeadlineExceeded = "DEADLINE_EXCEEDED"
	CodeUnimplemented    = "UNIMPLEMENTED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodePermissionDenied = "PERMISSION_DENIED"
)

// QuarryError carries a stable code, a human message and optional details.
type QuarryError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *QuarryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *QuarryError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a QuarryError with the same code.
func (e *QuarryError) Is(target error) bool {
	t, ok := target.(*QuarryError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of the error carrying details.
func (e *QuarryError) WithDetails(details map[string]interface{}) *QuarryError {
	c := *e
	c.Details = details
	return &c
}

// WithDetail returns a copy of the error with one more detail.
func (e *QuarryError) WithDetail(key string, value interface{}) *QuarryError {
	c := *e
	c.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

// Common errors
var (
	ErrNotExplored        = &QuarryError{Code: CodeInvalidRequest, Message: "database has not been explored yet"}
	ErrCollectionNotFound = &QuarryError{Code: CodeNotFound, Message: "collection not found"}
	ErrTableNotFound      = &QuarryError{Code: CodeNotFound, Message: "table not found"}
	ErrDatasetNotFound    = &QuarryError{Code: CodeNotFound, Message: "dataset not found"}
	ErrQueryNotFound      = &QuarryError{Code: CodeNotFound, Message: "query result not found"}
	ErrUnsafeStatement    = &QuarryError{Code: CodeUnsafeStatement, Message: "statement is not read-only"}
	ErrMissingAPIKey      = &QuarryError{Code: CodeInvalidRequest, Message: "api key is not configured"}
	ErrNotImplemented     = &QuarryError{Code: CodeUnimplemented, Message: "feature not implemented"}
)

// New creates a QuarryError with the given code and message.
func New(code, message string) *QuarryError {
	return &QuarryError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a QuarryError with a formatted message.
func Newf(code, format string, args ...interface{}) *QuarryError {
	return &QuarryError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps err. It returns nil when err is nil.
func Wrap(err error, code, message string) *QuarryError {
	if err == nil {
		return nil
	}
	return &QuarryError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *QuarryError {
	if err == nil {
		return nil
	}
	return &QuarryError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsInvalidRequest checks if an error is an invalid request error.
func IsInvalidRequest(err error) bool {
	return hasCode(err, CodeInvalidRequest)
}

// IsInternal checks if an error is an internal error.
func IsInternal(err error) bool {
	return hasCode(err, CodeInternal)
}

// IsCoded reports whether err carries a QuarryError.
func IsCoded(err error) bool {
	var qe *QuarryError
	return errors.As(err, &qe)
}

func hasCode(err error, code string) bool {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, defaulting to CodeInternal.
func GetCode(err error) string {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Message
	}
	return err.Error()
}

// GetDetails returns the details of the first QuarryError in the chain.
func GetDetails(err error) map[string]interface{} {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Details
	}
	return nil
}

// HTTPStatus maps an error code to an HTTP status.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case CodeInvalidRequest, CodeUnsafeStatement:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeUpstreamFailed, CodeLLMFailed:
		return http.StatusBadGateway
	case CodeUnavailable, CodeConnectionFailed:
		return http.StatusServiceUnavailable
	case CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case CodeUnimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
