// Package zhipu wires the GLM chat models and CogView image generation.
package zhipu

import (
	"context"
	"net/http"
	"strings"

	"multichat/internal/chat"
	"multichat/internal/providers"
	"multichat/internal/providers/openai_compat"
)

const (
	DefaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"
	imageModel     = "cogview-3-plus"
)

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type Client struct {
	cfg  Config
	chat *openai_compat.Client
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		cfg: cfg,
		chat: openai_compat.New(openai_compat.Config{
			Provider:   chat.ProviderZhipu,
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			HTTPClient: cfg.HTTPClient,
			ImageParts: true,
		}),
	}
}

var (
	_ providers.ChatProvider   = (*Client)(nil)
	_ providers.ImageGenerator = (*Client)(nil)
)

func (c *Client) Stream(ctx context.Context, req providers.ChatRequest, onChunk providers.ChunkFunc) (providers.ChatResponse, error) {
	return c.chat.Stream(ctx, req, onChunk)
}

func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	var out struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	err := providers.DoJSON(ctx, c.cfg.HTTPClient, providers.JSONRequest{
		Provider: chat.ProviderZhipu,
		URL:      c.cfg.BaseURL + "/images/generations",
		Headers:  map[string]string{"Authorization": "Bearer " + c.cfg.APIKey},
		Body:     map[string]string{"model": imageModel, "prompt": prompt},
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return "", &providers.TransportError{Provider: chat.ProviderZhipu, Message: "no image url returned"}
	}
	return out.Data[0].URL, nil
}
