package providers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"multichat/internal/chat"
)

// ReadError drains a non-2xx response and translates it into a TransportError.
func ReadError(provider chat.Provider, resp *http.Response) *TransportError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return &TransportError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    EnvelopeMessage(body),
	}
}

// EnvelopeMessage extracts the vendor message from `{"error":{"message"}}`,
// `{"error":"..."}` or `{"message"}` bodies.
func EnvelopeMessage(body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if len(env.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(env.Error, &flat) == nil && strings.TrimSpace(flat) != "" {
			return flat
		}
	}
	return strings.TrimSpace(env.Message)
}

// IsSuccess reports a 2xx status.
func IsSuccess(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}
