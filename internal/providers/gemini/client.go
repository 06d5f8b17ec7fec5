// Package gemini talks to the Generative Language API: streamed chat and
// Imagen generation.
package gemini

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

const (
	DefaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	imageModel      = "imagen-3.0-generate-002"
	defaultMIMEType = "image/jpeg"
)

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{cfg: cfg}
}

var (
	_ providers.ChatProvider   = (*Client)(nil)
	_ providers.ImageGenerator = (*Client)(nil)
)

func (c *Client) Stream(ctx context.Context, req providers.ChatRequest, onChunk providers.ChunkFunc) (providers.ChatResponse, error) {
	body, err := buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	text, err := sse.Do(ctx, c.cfg.HTTPClient, sse.Request{
		Provider: chat.ProviderGoogle,
		URL:      c.modelURL(req.Model, "streamGenerateContent") + "?alt=sse",
		Headers:  map[string]string{"x-goog-api-key": c.cfg.APIKey},
		Body:     body,
	}, ExtractDelta, onChunk)
	return providers.ChatResponse{Text: text}, err
}

func (c *Client) modelURL(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s", c.cfg.BaseURL, url.PathEscape(model), method)
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	FileData   *fileData   `json:"fileData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type payload struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

func buildPayload(req providers.ChatRequest) ([]byte, error) {
	p := payload{Contents: make([]content, 0, len(req.Messages))}
	var system []part
	for _, m := range req.Messages {
		if m.Role == chat.RoleSystem {
			system = append(system, part{Text: m.Content})
			continue
		}
		role := "user"
		if m.Role == chat.RoleAssistant {
			role = "model"
		}
		p.Contents = append(p.Contents, content{Role: role, Parts: parts(m)})
	}
	if len(system) > 0 {
		p.SystemInstruction = &content{Parts: system}
	}

	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini payload: %w", err)
	}
	return b, nil
}

func parts(m chat.Message) []part {
	out := []part{{Text: m.Content}}
	if m.ImageURL == "" {
		return out
	}
	if uri, ok := providers.ParseDataURI(m.ImageURL); ok {
		return append(out, part{InlineData: &inlineData{MIMEType: uri.MIMEOr(defaultMIMEType), Data: uri.Base64}})
	}
	return append(out, part{FileData: &fileData{MIMEType: defaultMIMEType, FileURI: m.ImageURL}})
}

// ExtractDelta joins candidates[0].content.parts[*].text.
func ExtractDelta(data []byte) (string, error) {
	var chunk struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", fmt.Errorf("decode chunk: %w", err)
	}
	if chunk.Error != nil {
		return "", &providers.TransportError{Provider: chat.ProviderGoogle, StatusCode: chunk.Error.Code, Message: chunk.Error.Message}
	}
	if len(chunk.Candidates) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, p := range chunk.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// GenerateImage calls Imagen and returns the first prediction as a PNG data URI.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"instances":  []map[string]string{{"prompt": prompt}},
		"parameters": map[string]int{"sampleCount": 1},
	}
	var out struct {
		Predictions []struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded"`
			MIMEType           string `json:"mimeType"`
		} `json:"predictions"`
	}
	err := providers.DoJSON(ctx, c.cfg.HTTPClient, providers.JSONRequest{
		Provider: chat.ProviderGoogle,
		URL:      c.modelURL(imageModel, "predict"),
		Headers:  map[string]string{"x-goog-api-key": c.cfg.APIKey},
		Body:     reqBody,
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Predictions) == 0 || out.Predictions[0].BytesBase64Encoded == "" {
		return "", &providers.TransportError{Provider: chat.ProviderGoogle, Message: "no image data returned"}
	}
	return "data:image/png;base64," + out.Predictions[0].BytesBase64Encoded, nil
}
