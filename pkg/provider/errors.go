package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
)

// ErrTimeout is matched (errors.Is) by every per-attempt timeout.
var ErrTimeout = errors.New("provider request timed out")

// TimeoutError reports a single attempt exceeding the per-call timeout.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s: timed out after %s", e.Operation, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// APIError is a non-2xx response from the provider. Body holds the raw
// response so callers can persist it for diagnosis.
type APIError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("provider %s: %d %s: %s", e.Operation, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("provider %s: %d: %s", e.Operation, e.StatusCode, msg)
}

// Retryable reports whether the status is transient (429 or 5xx).
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func newAPIError(operation string, status int, body []byte) *APIError {
	apiErr := &APIError{Operation: operation, StatusCode: status, Body: body}
	var envelope struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Code = envelope.Code
			apiErr.Message = envelope.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// StatusCode extracts the provider HTTP status from err, or 0 when the call
// never produced a response.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ResponseBody returns the provider's raw error body when available.
func ResponseBody(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return string(apiErr.Body)
	}
	return ""
}

// DomainError maps provider failures onto the service error codes.
func DomainError(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, ErrTimeout) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "payment provider timed out")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return pkgerrors.Wrap(domainCodeForStatus(apiErr.StatusCode), err, "payment provider rejected request").
			WithDetails(map[string]any{
				"status":        apiErr.StatusCode,
				"provider_code": apiErr.Code,
				"operation":     apiErr.Operation,
			})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable")
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}
