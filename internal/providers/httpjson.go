package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"multichat/internal/chat"
)

// JSONRequest is a single non-streaming vendor call.
type JSONRequest struct {
	Provider chat.Provider
	Method   string
	URL      string
	Headers  map[string]string
	Body     any
}

// DoJSON sends req and decodes a 2xx body into out.
func DoJSON(ctx context.Context, client *http.Client, req JSONRequest, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Canceled(ctx)
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if !IsSuccess(resp) {
		return ReadError(req.Provider, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Provider, err)
	}
	return nil
}
