package openai_compat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"multichat/internal/chat"
	"multichat/internal/providers"
)

func TestBuildPayloadChatCompletions(t *testing.T) {
	c := New(Config{Provider: chat.ProviderDeepSeek, BaseURL: "https://api.deepseek.com"})

	body, endpoint, err := c.buildPayload(providers.ChatRequest{
		Model: "deepseek-chat",
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: "You are concise"},
			{Role: chat.RoleUser, Content: "hello", ImageURL: "data:image/png;base64,AAAA"},
		},
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://api.deepseek.com/chat/completions" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}

	var payload struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Model != "deepseek-chat" || !payload.Stream {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.Messages) != 2 || payload.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages %+v", payload.Messages)
	}
	if s, ok := payload.Messages[1].Content.(string); !ok || s != "hello" {
		t.Fatalf("text-only vendor should drop the image, got %#v", payload.Messages[1].Content)
	}
}

func TestBuildPayloadImageParts(t *testing.T) {
	c := New(Config{Provider: chat.ProviderZhipu, BaseURL: "https://open.bigmodel.cn/api/paas/v4/", ImageParts: true})

	body, endpoint, err := c.buildPayload(providers.ChatRequest{
		Model:    "glm-4-plus",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "what is this", ImageURL: "https://x/cat.png"}},
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://open.bigmodel.cn/api/paas/v4/chat/completions" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}

	var payload struct {
		Messages []struct {
			Content []map[string]any `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	parts := payload.Messages[0].Content
	if len(parts) != 2 || parts[0]["type"] != "image_url" || parts[1]["text"] != "what is this" {
		t.Fatalf("unexpected content parts %#v", parts)
	}
}

func TestStreamForwardsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
			w.(http.Flusher).Flush()
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(Config{Provider: chat.ProviderDeepSeek, BaseURL: srv.URL, APIKey: "sk-test"})
	var chunks []string
	resp, err := c.Stream(context.Background(), providers.ChatRequest{
		Model:    "deepseek-chat",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "Hi"}},
	}, func(d string) { chunks = append(chunks, d) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if resp.Text != "Hello" || len(chunks) != 2 || chunks[0] != "Hel" {
		t.Fatalf("unexpected result %q chunks=%v", resp.Text, chunks)
	}
}

func TestStreamTranslatesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Authentication Fails"}}`)
	}))
	defer srv.Close()

	c := New(Config{Provider: chat.ProviderDeepSeek, BaseURL: srv.URL, APIKey: "bad"})
	_, err := c.Stream(context.Background(), providers.ChatRequest{Model: "deepseek-chat"}, nil)

	var te *providers.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if te.StatusCode != http.StatusUnauthorized || te.Message != "Authentication Fails" {
		t.Fatalf("unexpected translated error %+v", te)
	}
}

func TestStreamCanceledBeforeRequest(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Config{Provider: chat.ProviderQwen, BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Stream(ctx, providers.ChatRequest{Model: "qwen-max"}, nil)
	if !errors.Is(err, providers.ErrCanceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("expected no request after cancel, got %d", hits)
	}
}
