package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error represents a non-2xx response from the service.
type Error struct {
	StatusCode int
	Message    string
	Op         string // Operation that failed (e.g., "FormStatus")
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err indicates a 404 response.
func IsNotFound(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsClientError reports whether err is a 4xx response. Those are not worth
// retrying.
func IsClientError(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}

// errorMessage unwraps FastAPI style {"detail": ...} bodies.
func errorMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var text string
		if err := json.Unmarshal(payload.Detail, &text); err == nil {
			return text
		}
		return string(payload.Detail)
	}
	return strings.TrimSpace(string(body))
}
