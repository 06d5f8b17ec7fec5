package sse

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"multichat/internal/chat"
	"multichat/internal/providers"
)

// Request describes one streaming POST.
type Request struct {
	Provider chat.Provider
	URL      string
	Headers  map[string]string
	Body     []byte
}

// Do posts req, translates a non-2xx status and decodes the event stream.
func Do(ctx context.Context, client *http.Client, req Request, extract ExtractFunc, onChunk providers.ChunkFunc) (string, error) {
	if ctx.Err() != nil {
		return "", providers.Canceled(ctx)
	}
	if client == nil {
		client = http.DefaultClient
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", providers.Canceled(ctx)
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if !providers.IsSuccess(resp) {
		return "", providers.ReadError(req.Provider, resp)
	}
	return Stream(ctx, resp.Body, extract, onChunk)
}
