package reminders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
)

// Code is the API error classification.
type Code string

const (
	CodeNotFound      Code = "REMINDER_NOT_FOUND"
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeInternalError Code = "INTERNAL_SERVER_ERROR"
	CodeNetwork       Code = "NETWORK_ERROR"
	CodeUnknown       Code = "UNKNOWN_ERROR"
)

// ErrNotFound matches any *APIError classified as CodeNotFound.
var ErrNotFound = errors.New("reminder not found")

// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// APIError is a failed API call. Status is 0 when no response was received.
type APIError struct {
	Status           int
	Code             Code
	Message          string
	ValidationErrors map[string][]string
	Err              error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("reminders API %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("reminders API error (status %d, %s): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Code == CodeNotFound
}

// problem is the problem+json error body.
type problem struct {
	Type      string              `json:"type,omitempty"`
	Title     string              `json:"title,omitempty"`
	Status    int                 `json:"status,omitempty"`
	Detail    string              `json:"detail,omitempty"`
	ErrorCode string              `json:"errorCode,omitempty"`
	RequestID string              `json:"requestId,omitempty"`
	TraceID   string              `json:"traceId,omitempty"`
	Errors    map[string][]string `json:"errors,omitempty"`
}

func statusCode(status int) Code {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return CodeInternalError
	default:
		return CodeUnknown
	}
}

func newAPIError(status int, p *problem) *APIError {
	e := &APIError{Status: status, Code: statusCode(status), Message: http.StatusText(status)}
	if p == nil {
		return e
	}
	if p.ErrorCode != "" {
		e.Code = Code(p.ErrorCode)
	}
	switch {
	case p.Detail != "":
		e.Message = p.Detail
	case p.Title != "":
		e.Message = p.Title
	}
	e.ValidationErrors = p.Errors
	return e
}

func networkError(err error) *APIError {
	return &APIError{Code: CodeNetwork, Message: err.Error(), Err: err}
}

// Classify returns err as an *APIError. Errors that did not come from the
// API are CodeUnknown with no status.
func Classify(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Code: CodeUnknown, Message: err.Error(), Err: err}
}

// IsRecoverable reports whether retrying may succeed: network failures,
// server errors and anything that never got a response. Cancellation and
// undecodable answers are not.
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrMalformedResponse) {
		return false
	}
	e := Classify(err)
	return e.Code == CodeNetwork || e.Code == CodeInternalError || e.Status == 0
}

// IsNotFound reports whether err means the reminder does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrorKey is the message key for a failed call outside of a mutation.
func ErrorKey(err error) string {
	switch Classify(err).Code {
	case CodeNotFound:
		return "errors.reminderNotFound"
	case CodeValidation:
		return "errors.validationError"
	case CodeUnauthorized:
		return "errors.unauthorized"
	case CodeForbidden:
		return "errors.forbidden"
	case CodeInternalError:
		return "errors.serverError"
	case CodeNetwork:
		return "errors.networkError"
	default:
		return "errors.unknownError"
	}
}

// Operation names a mutation for error messages.
type Operation string

const (
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpPause    Operation = "pause"
	OpActivate Operation = "activate"
	OpDraft    Operation = "draft"
)

// MutationMessageKey is the message key for a failed mutation.
func MutationMessageKey(err error, op Operation) string {
	e := Classify(err)
	switch e.Code {
	case CodeNotFound:
		switch op {
		case OpUpdate:
			return "errors.reminderDeletedCannotUpdate"
		case OpDelete:
			return "errors.reminderAlreadyDeleted"
		case OpPause, OpActivate, OpDraft:
			return "errors.reminderDeletedCannotModify"
		default:
			return "errors.reminderNotFound"
		}
	case CodeNetwork:
		return "errors.networkErrorRetry"
	}
	switch op {
	case OpCreate:
		return "errors.createFailed"
	case OpUpdate:
		return "errors.updateFailed"
	case OpDelete:
		return "errors.deleteFailed"
	case OpPause:
		return "errors.pauseFailed"
	case OpActivate:
		return "errors.activateFailed"
	case OpDraft:
		return "errors.draftFailed"
	default:
		return ErrorKey(err)
	}
}

// FirstValidationMessage returns the server's first field message of a
// validation failure, taking fields in name order.
func FirstValidationMessage(err error) (string, bool) {
	e := Classify(err)
	if e.Code != CodeValidation || len(e.ValidationErrors) == 0 {
		return "", false
	}
	fields := make([]string, 0, len(e.ValidationErrors))
	for f := range e.ValidationErrors {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	for _, f := range fields {
		if msgs := e.ValidationErrors[f]; len(msgs) > 0 && msgs[0] != "" {
			return msgs[0], true
		}
	}
	return "", false
}
