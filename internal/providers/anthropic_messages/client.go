package anthropic_messages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"multichat/internal/chat"
	"multichat/internal/providers"
	"multichat/internal/providers/sse"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

type Config struct {
	BaseURL    string
	APIKey     string
	MaxTokens  int
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{cfg: cfg}
}

var _ providers.ChatProvider = (*Client)(nil)

func (c *Client) Stream(ctx context.Context, req providers.ChatRequest, onChunk providers.ChunkFunc) (providers.ChatResponse, error) {
	body, err := c.buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	text, err := sse.Do(ctx, c.cfg.HTTPClient, sse.Request{
		Provider: chat.ProviderAnthropic,
		URL:      strings.TrimSuffix(c.cfg.BaseURL, "/") + "/messages",
		Headers: map[string]string{
			"x-api-key":         c.cfg.APIKey,
			"anthropic-version": apiVersion,
		},
		Body: body,
	}, ExtractDelta, onChunk)
	return providers.ChatResponse{Text: text}, err
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type payload struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream"`
}

func (c *Client) buildPayload(req providers.ChatRequest) ([]byte, error) {
	p := payload{
		Model:     req.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages:  make([]message, 0, len(req.Messages)),
		Stream:    true,
	}
	systemSet := false
	for _, m := range req.Messages {
		if m.Role == chat.RoleSystem {
			if !systemSet {
				p.System = m.Content
				systemSet = true
			}
			continue
		}
		p.Messages = append(p.Messages, message{Role: string(m.Role), Content: content(m)})
	}

	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal messages payload: %w", err)
	}
	return b, nil
}

func content(m chat.Message) any {
	if m.ImageURL == "" {
		return m.Content
	}
	image := contentBlock{Type: "image"}
	if uri, ok := providers.ParseDataURI(m.ImageURL); ok {
		image.Source = &imageSource{Type: "base64", MediaType: uri.MIMEOr("image/jpeg"), Data: uri.Base64}
	} else {
		image.Source = &imageSource{Type: "url", URL: m.ImageURL}
	}
	return []contentBlock{image, {Type: "text", Text: m.Content}}
}

// ExtractDelta reads delta.text from content_block_delta events. An error
// event is returned as a TransportError.
func ExtractDelta(data []byte) (string, error) {
	var event struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return "", fmt.Errorf("decode event: %w", err)
	}
	switch event.Type {
	case "content_block_delta":
		if event.Delta.Type == "text_delta" {
			return event.Delta.Text, nil
		}
	case "error":
		msg := ""
		if event.Error != nil {
			msg = event.Error.Message
		}
		return "", &providers.TransportError{Provider: chat.ProviderAnthropic, Message: msg}
	}
	return "", nil
}
