package gateway

import (
	"encoding/json"
	"strings"

	"github.com/nkiryanov/agentmon/internal/apperrors"
)

const maxDetailLength = 512

// NewAPIError builds error from FastAPI style body: {"detail": "..."} or {"detail": [{"msg": "..."}]}
func NewAPIError(resp *Response) *apperrors.APIError {
	return &apperrors.APIError{StatusCode: resp.StatusCode, Detail: detail(resp.Body)}
}

func detail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return truncate(strings.TrimSpace(string(body)))
	}

	var text string
	if err := json.Unmarshal(payload.Detail, &text); err == nil {
		return text
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			msgs = append(msgs, item.Msg)
		}
		return strings.Join(msgs, "; ")
	}

	return truncate(string(payload.Detail))
}

func truncate(s string) string {
	if len(s) > maxDetailLength {
		return s[:maxDetailLength]
	}
	return s
}
