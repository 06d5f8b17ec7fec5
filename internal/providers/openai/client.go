// Package openai adapts the OpenAI SDK to the provider contracts.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"multichat/internal/chat"
	"multichat/internal/providers"
)

const (
	generateModel = goopenai.CreateImageModelDallE3
	editModel     = goopenai.CreateImageModelDallE2
	imageSize     = goopenai.CreateImageSize1024x1024
)

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type Client struct {
	api *goopenai.Client
}

func New(cfg Config) *Client {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &Client{api: goopenai.NewClientWithConfig(clientCfg)}
}

var (
	_ providers.ChatProvider   = (*Client)(nil)
	_ providers.ImageGenerator = (*Client)(nil)
	_ providers.ImageEditor    = (*Client)(nil)
)

func (c *Client) Stream(ctx context.Context, req providers.ChatRequest, onChunk providers.ChunkFunc) (providers.ChatResponse, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toMessages(req.Messages),
		Stream:   true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return providers.ChatResponse{}, providers.Canceled(ctx)
		}
		return providers.ChatResponse{}, translate(err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		if ctx.Err() != nil {
			return providers.ChatResponse{Text: full.String()}, providers.Canceled(ctx)
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return providers.ChatResponse{Text: full.String()}, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return providers.ChatResponse{Text: full.String()}, providers.Canceled(ctx)
			}
			return providers.ChatResponse{Text: full.String()}, translate(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onChunk != nil {
			onChunk(delta)
		}
	}
}

func toMessages(in []chat.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		if m.ImageURL != "" && m.Role == chat.RoleUser {
			out = append(out, goopenai.ChatCompletionMessage{
				Role: goopenai.ChatMessageRoleUser,
				MultiContent: []goopenai.ChatMessagePart{
					{Type: goopenai.ChatMessagePartTypeImageURL, ImageURL: &goopenai.ChatMessageImageURL{URL: m.ImageURL}},
					{Type: goopenai.ChatMessagePartTypeText, Text: m.Content},
				},
			})
			continue
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateImage(ctx, goopenai.ImageRequest{
		Model:          generateModel,
		Prompt:         prompt,
		N:              1,
		Size:           imageSize,
		ResponseFormat: goopenai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", translate(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", &providers.TransportError{Provider: chat.ProviderOpenAI, Message: "no image url returned"}
	}
	return resp.Data[0].URL, nil
}

// EditImage uploads the source (and optional mask) data URIs as PNG files.
func (c *Client) EditImage(ctx context.Context, req providers.EditRequest) (string, error) {
	image, err := tempImage(req.Image, "image-*.png")
	if err != nil {
		return "", fmt.Errorf("prepare source image: %w", err)
	}
	defer cleanup(image)

	editReq := newEditRequest(image, req.Prompt)
	if strings.TrimSpace(req.Mask) != "" {
		mask, err := tempImage(req.Mask, "mask-*.png")
		if err != nil {
			return "", fmt.Errorf("prepare mask: %w", err)
		}
		defer cleanup(mask)
		editReq.Mask = mask
	}

	resp, err := c.api.CreateEditImage(ctx, editReq)
	if err != nil {
		return "", translate(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", &providers.TransportError{Provider: chat.ProviderOpenAI, Message: "no image url returned"}
	}
	return resp.Data[0].URL, nil
}

func newEditRequest(image *os.File, prompt string) goopenai.ImageEditRequest {
	return goopenai.ImageEditRequest{
		Image:          image,
		Prompt:         prompt,
		Model:          editModel,
		N:              1,
		Size:           imageSize,
		ResponseFormat: goopenai.CreateImageResponseFormatURL,
	}
}

func tempImage(ref, pattern string) (*os.File, error) {
	uri, ok := providers.ParseDataURI(ref)
	if !ok {
		return nil, fmt.Errorf("image must be an inline data uri")
	}
	data, err := uri.Bytes()
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		cleanup(f)
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup(f)
		return nil, err
	}
	return f, nil
}

func cleanup(f *os.File) {
	_ = f.Close()
	_ = os.Remove(f.Name())
}

func translate(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &providers.TransportError{
			Provider:   chat.ProviderOpenAI,
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &providers.TransportError{Provider: chat.ProviderOpenAI, StatusCode: reqErr.HTTPStatusCode}
	}
	return fmt.Errorf("openai request: %w", err)
}
