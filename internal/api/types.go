package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Form statuses reported by the service.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// FormID is the opaque server identifier. The service may encode it as a
// JSON string or number; it is always carried as a string here.
type FormID string

// UnmarshalJSON accepts both string and numeric identifiers.
func (id *FormID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FormID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("form id: %w", err)
	}
	*id = FormID(n.String())
	return nil
}

// Form is a document record as listed by the service.
type Form struct {
	ID          FormID `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05",
}

// Created parses CreatedAt. The zero time is returned when it is missing or
// unparseable.
func (f Form) Created() time.Time {
	value := strings.TrimSpace(f.CreatedAt)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// UploadResponse is returned by UploadForm.
type UploadResponse struct {
	Message string `json:"message,omitempty"`
	Form    Form   `json:"form"`
}

// StatusResponse is the readiness probe result.
type StatusResponse struct {
	Status  string          `json:"status"`
	OCRData json.RawMessage `json:"ocr_data,omitempty"`
}

// Diagnostic renders the server diagnostic as compact JSON, or "" when the
// server sent none.
func (s StatusResponse) Diagnostic() string {
	raw := bytes.TrimSpace(s.OCRData)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// SearchResult is one text occurrence on a page.
type SearchResult struct {
	Page int       `json:"page"`
	Rect []float64 `json:"rect"`
	Text string    `json:"text"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// Field describes the form field the conversation is currently asking about.
type Field struct {
	Label string `json:"label"`
}

// StartChatResponse opens a conversation.
type StartChatResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Field     *Field `json:"field,omitempty"`
}

// MessageResponse is the assistant's reply to one turn.
type MessageResponse struct {
	Message    string `json:"message"`
	FieldLabel string `json:"field_label,omitempty"`
	Completed  bool   `json:"completed"`
}

// PDFResponse points at a generated artifact.
type PDFResponse struct {
	URL string `json:"url"`
}

// PageImage is a rendered page.
type PageImage struct {
	Data        []byte
	ContentType string
	ETag        string
	// NotModified is set when the server confirmed the caller's ETag; Data is
	// empty in that case.
	NotModified bool
}
