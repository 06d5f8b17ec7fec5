// Package qwen wires DashScope: OpenAI-compatible chat and the asynchronous
// Wanx text-to-image task API.
package qwen

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"multichat/internal/chat"
	"multichat/internal/providers"
	"multichat/internal/providers/openai_compat"
	"multichat/internal/providers/taskpoll"
)

const (
	DefaultBaseURL = "https://dashscope.aliyuncs.com"
	imageModel     = "wanx-v1"
	imageSize      = "1024*1024"
)

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// Poller overrides the task polling schedule. Zero value uses the defaults.
	Poller taskpoll.Poller
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
	cfg.Poller.Provider = chat.ProviderQwen
	return &Client{
		cfg: cfg,
		chat: openai_compat.New(openai_compat.Config{
			Provider:   chat.ProviderQwen,
			BaseURL:    cfg.BaseURL + "/compatible-mode/v1",
			APIKey:     cfg.APIKey,
			HTTPClient: cfg.HTTPClient,
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

type taskOutput struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		Results    []struct {
			URL string `json:"url"`
		} `json:"results"`
		Message string `json:"message"`
	} `json:"output"`
}

// GenerateImage submits a synthesis task and waits for it to finish.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	taskID, err := c.submit(ctx, prompt)
	if err != nil {
		return "", err
	}
	return c.cfg.Poller.Wait(ctx, func(ctx context.Context) (taskpoll.Result, error) {
		return c.check(ctx, taskID)
	})
}

func (c *Client) submit(ctx context.Context, prompt string) (string, error) {
	var out taskOutput
	err := providers.DoJSON(ctx, c.cfg.HTTPClient, providers.JSONRequest{
		Provider: chat.ProviderQwen,
		URL:      c.cfg.BaseURL + "/api/v1/services/aigc/text2image/image-synthesis",
		Headers: map[string]string{
			"Authorization":     "Bearer " + c.cfg.APIKey,
			"X-DashScope-Async": "enable",
		},
		Body: map[string]any{
			"model":      imageModel,
			"input":      map[string]string{"prompt": prompt},
			"parameters": map[string]any{"size": imageSize, "n": 1},
		},
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Output.TaskID == "" {
		return "", &providers.TransportError{Provider: chat.ProviderQwen, Message: "no task id returned"}
	}
	return out.Output.TaskID, nil
}

func (c *Client) check(ctx context.Context, taskID string) (taskpoll.Result, error) {
	var out taskOutput
	err := providers.DoJSON(ctx, c.cfg.HTTPClient, providers.JSONRequest{
		Provider: chat.ProviderQwen,
		Method:   http.MethodGet,
		URL:      c.cfg.BaseURL + "/api/v1/tasks/" + url.PathEscape(taskID),
		Headers:  map[string]string{"Authorization": "Bearer " + c.cfg.APIKey},
	}, &out)
	if err != nil {
		return taskpoll.Result{}, err
	}
	res := taskpoll.Result{
		Status:  taskpoll.Status(out.Output.TaskStatus),
		Message: out.Output.Message,
	}
	if len(out.Output.Results) > 0 {
		res.URL = out.Output.Results[0].URL
	}
	return res, nil
}
