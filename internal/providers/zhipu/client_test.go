package zhipu

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

func TestStreamSendsImageParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Messages []struct {
				Content []map[string]any `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.Messages) != 1 || len(body.Messages[0].Content) != 2 {
			t.Errorf("expected multi-part content, got %+v", body.Messages)
		}
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"A cat\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "z"})
	resp, err := c.Stream(context.Background(), providers.ChatRequest{
		Model:    "glm-4-plus",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "what", ImageURL: "https://x/c.png"}},
	}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if resp.Text != "A cat" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
}

func TestGenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" || r.Header.Get("Authorization") != "Bearer z" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "cogview-3-plus" || body["prompt"] != "mountains" {
			t.Errorf("unexpected body %v", body)
		}
		io.WriteString(w, `{"created":1,"data":[{"url":"https://cdn.zhipu/img.png"}]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "z"})
	url, err := c.GenerateImage(context.Background(), "mountains")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "https://cdn.zhipu/img.png" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestGenerateImageVendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":"1301","message":"unsafe content"}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "z"})
	_, err := c.GenerateImage(context.Background(), "x")
	var te *providers.TransportError
	if !errors.As(err, &te) || te.Message != "unsafe content" {
		t.Fatalf("expected vendor message, got %v", err)
	}
}
