package anthropic_messages

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"multichat/internal/chat"
	"multichat/internal/providers"
)

func TestBuildPayloadLiftsSystemAndImage(t *testing.T) {
	c := New(Config{APIKey: "k"})
	body, err := c.buildPayload(providers.ChatRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: "You are terse"},
			{Role: chat.RoleUser, Content: "what is this", ImageURL: "data:image/png;base64,QUJD"},
			{Role: chat.RoleAssistant, Content: "a cat"},
			{Role: chat.RoleUser, Content: "and this", ImageURL: "https://x/dog.jpg"},
		},
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	var got struct {
		MaxTokens int    `json:"max_tokens"`
		System    string `json:"system"`
		Stream    bool   `json:"stream"`
		Messages  []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.System != "You are terse" || got.MaxTokens != 4096 || !got.Stream {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("system message should be removed, got %d messages", len(got.Messages))
	}

	var blocks []contentBlock
	if err := json.Unmarshal(got.Messages[0].Content, &blocks); err != nil {
		t.Fatalf("first message content: %v", err)
	}
	if len(blocks) != 2 || blocks[0].Type != "image" || blocks[1].Text != "what is this" {
		t.Fatalf("unexpected blocks %+v", blocks)
	}
	if blocks[0].Source.Type != "base64" || blocks[0].Source.MediaType != "image/png" || blocks[0].Source.Data != "QUJD" {
		t.Fatalf("unexpected base64 source %+v", blocks[0].Source)
	}

	blocks = nil
	if err := json.Unmarshal(got.Messages[2].Content, &blocks); err != nil {
		t.Fatalf("third message content: %v", err)
	}
	if blocks[0].Source.Type != "url" || blocks[0].Source.URL != "https://x/dog.jpg" {
		t.Fatalf("unexpected url source %+v", blocks[0].Source)
	}
}

func TestExtractDelta(t *testing.T) {
	delta, err := ExtractDelta([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`))
	if err != nil || delta != "Hi" {
		t.Fatalf("unexpected delta %q err=%v", delta, err)
	}
	delta, err = ExtractDelta([]byte(`{"type":"message_start","message":{}}`))
	if err != nil || delta != "" {
		t.Fatalf("expected no delta for message_start, got %q err=%v", delta, err)
	}
	_, err = ExtractDelta([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	var te *providers.TransportError
	if !errors.As(err, &te) || te.Message != "Overloaded" {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" || r.Header.Get("anthropic-version") != apiVersion {
			t.Errorf("missing auth headers")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
		io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		io.WriteString(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "sk-ant"})
	var chunks []string
	resp, err := c.Stream(context.Background(), providers.ChatRequest{
		Model:    "claude-3-haiku-20240307",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "Hi"}},
	}, func(d string) { chunks = append(chunks, d) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if resp.Text != "Hello" || len(chunks) != 2 {
		t.Fatalf("unexpected result %q %v", resp.Text, chunks)
	}
}

func TestStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens: too large"}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Stream(context.Background(), providers.ChatRequest{Model: "claude-3-haiku-20240307"}, nil)
	var te *providers.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusBadRequest || te.Message != "max_tokens: too large" {
		t.Fatalf("unexpected error %v", err)
	}
}
