package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// StartChat opens a conversation about a ready form.
func (c *Client) StartChat(ctx context.Context, formID string) (*StartChatResponse, error) {
	var out StartChatResponse
	payload := map[string]string{"form_id": formID}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/start", nil, payload, &out); err != nil {
		return nil, wrapError(err, "StartChat")
	}
	if out.SessionID == "" {
		return nil, wrapError(fmt.Errorf("response missing session id"), "StartChat")
	}
	return &out, nil
}

// SendMessage submits one user turn and returns the assistant reply.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (*MessageResponse, error) {
	var out MessageResponse
	payload := map[string]string{"session_id": sessionID, "message": message}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/message", nil, payload, &out); err != nil {
		return nil, wrapError(err, "SendMessage")
	}
	return &out, nil
}

func decodeBody(r io.Reader, out interface{}) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
