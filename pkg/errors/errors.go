// Package errors defines the coded errors shared by the CLI, the service and
// the HTTP API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. They are part of the HTTP API and must stay stable.
const (
	CodeUnknown       = "UNKNOWN_ERROR"
	CodeParseError    = "PARSE_ERROR"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeNotFound      = "NOT_FOUND"
	CodeDownloadError = "DOWNLOAD_ERROR"
	CodeUploadError   = "UPLOAD_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeEmptyProfile  = "EMPTY_PROFILE"
)

// statusByCode is what the API answers with for each code. Anything missing
// is a server fault.
var statusByCode = map[string]int{
	CodeParseError:    http.StatusBadRequest,
	CodeInvalidInput:  http.StatusBadRequest,
	CodeNotFound:      http.StatusNotFound,
	CodeEmptyProfile:  http.StatusUnprocessableEntity,
	CodeDownloadError: http.StatusBadGateway,
	CodeUploadError:   http.StatusBadGateway,
}

// AppError carries a stable code next to a human readable message.
// Two AppErrors match under errors.Is when their codes are equal.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return "[" + e.Code + "] " + e.Message
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// New returns an error with the given code.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf is New with a formatted message.
func Newf(code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err.
func Wrap(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// AtLine reports a malformed input line. The message is exactly "line N" so
// callers can show where parsing stopped.
func AtLine(line int, err error) *AppError {
	return Wrap(CodeParseError, fmt.Sprintf("line %d", line), err)
}

// Sentinels for errors.Is.
var (
	ErrParseError    = New(CodeParseError, "parse error")
	ErrInvalidInput  = New(CodeInvalidInput, "invalid input")
	ErrNotFound      = New(CodeNotFound, "resource not found")
	ErrDownloadError = New(CodeDownloadError, "download error")
	ErrUploadError   = New(CodeUploadError, "upload error")
	ErrConfigError   = New(CodeConfigError, "configuration error")
	ErrEmptyProfile  = New(CodeEmptyProfile, "nothing to render")
)

func IsParseError(err error) bool   { return errors.Is(err, ErrParseError) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

func asAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// GetErrorCode returns the code of the outermost AppError in err's chain,
// or CodeUnknown.
func GetErrorCode(err error) string {
	if appErr, ok := asAppError(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage returns the AppError message without its code or cause.
func GetErrorMessage(err error) string {
	if appErr, ok := asAppError(err); ok {
		return appErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus maps err to the status the API answers with.
func HTTPStatus(err error) int {
	if status, ok := statusByCode[GetErrorCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
