package openai_compat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"multichat/internal/chat"
	"multichat/internal/providers"
	"multichat/internal/providers/sse"
)

type Config struct {
	Provider   chat.Provider
	BaseURL    string
	APIKey     string
	Headers    map[string]string
	HTTPClient *http.Client
	// ImageParts sends image messages as a content array; otherwise images are dropped.
	ImageParts bool
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{cfg: cfg}
}

var _ providers.ChatProvider = (*Client)(nil)

func (c *Client) Stream(ctx context.Context, req providers.ChatRequest, onChunk providers.ChunkFunc) (providers.ChatResponse, error) {
	body, endpointURL, err := c.buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}

	headers := make(map[string]string, len(c.cfg.Headers)+1)
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	for k, v := range c.cfg.Headers {
		headers[k] = strings.ReplaceAll(v, "{{api_key}}", c.cfg.APIKey)
	}

	text, err := sse.Do(ctx, c.cfg.HTTPClient, sse.Request{
		Provider: c.cfg.Provider,
		URL:      endpointURL,
		Headers:  headers,
		Body:     body,
	}, c.extractDelta, onChunk)
	return providers.ChatResponse{Text: text}, err
}

func (c *Client) buildPayload(req providers.ChatRequest) ([]byte, string, error) {
	endpointURL, err := c.buildEndpointURL()
	if err != nil {
		return nil, "", err
	}

	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{
			"role":    string(m.Role),
			"content": c.content(m),
		})
	}

	payload := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   true,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpointURL, nil
}

func (c *Client) content(m chat.Message) any {
	if !c.cfg.ImageParts || m.ImageURL == "" {
		return m.Content
	}
	return []map[string]any{
		{"type": "image_url", "image_url": map[string]string{"url": m.ImageURL}},
		{"type": "text", "text": m.Content},
	}
}

func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}

func (c *Client) extractDelta(data []byte) (string, error) {
	return ExtractDelta(c.cfg.Provider, data)
}

// ExtractDelta reads choices[0].delta.content from one chunk.
func ExtractDelta(provider chat.Provider, data []byte) (string, error) {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", fmt.Errorf("decode chunk: %w", err)
	}
	if chunk.Error != nil {
		return "", &providers.TransportError{Provider: provider, Message: chunk.Error.Message}
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}
