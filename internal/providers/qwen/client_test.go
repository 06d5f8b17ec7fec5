package qwen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"multichat/internal/chat"
	"multichat/internal/providers"
	"multichat/internal/providers/taskpoll"
)

type fakeDashScope struct {
	statuses []string
	polls    int
	submits  int
	message  string
}

func (f *fakeDashScope) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/services/aigc/text2image/image-synthesis":
			f.submits++
			if r.Header.Get("X-DashScope-Async") != "enable" {
				t.Errorf("missing async header")
			}
			var body struct {
				Model string `json:"model"`
				Input struct {
					Prompt string `json:"prompt"`
				} `json:"input"`
				Parameters struct {
					Size string `json:"size"`
					N    int    `json:"n"`
				} `json:"parameters"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Model != "wanx-v1" || body.Parameters.Size != "1024*1024" || body.Parameters.N != 1 {
				t.Errorf("unexpected submit body %+v", body)
			}
			io.WriteString(w, `{"output":{"task_id":"task-1","task_status":"PENDING"},"request_id":"r"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tasks/task-1":
			status := f.statuses[len(f.statuses)-1]
			if f.polls < len(f.statuses) {
				status = f.statuses[f.polls]
			}
			f.polls++
			if status == "SUCCEEDED" {
				io.WriteString(w, `{"output":{"task_status":"SUCCEEDED","results":[{"url":"https://dashscope/out.png"}]}}`)
				return
			}
			fmt.Fprintf(w, `{"output":{"task_status":%q,"message":%q}}`, status, f.message)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

type recordingSleep struct {
	total time.Duration
	count int
}

func (s *recordingSleep) Sleep(_ context.Context, d time.Duration) error {
	s.total += d
	s.count++
	return nil
}

func newClient(t *testing.T, f *fakeDashScope, sleep *recordingSleep) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL: srv.URL,
		APIKey:  "qk",
		Poller:  taskpoll.Poller{Sleep: sleep.Sleep},
	})
}

func TestGenerateImagePendingPendingSucceeded(t *testing.T) {
	f := &fakeDashScope{statuses: []string{"PENDING", "PENDING", "SUCCEEDED"}}
	sleep := &recordingSleep{}
	c := newClient(t, f, sleep)

	url, err := c.GenerateImage(context.Background(), "a paper boat")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "https://dashscope/out.png" {
		t.Fatalf("unexpected url %q", url)
	}
	if f.submits != 1 || f.polls != 3 {
		t.Fatalf("expected 1 submit and 3 polls, got %d and %d", f.submits, f.polls)
	}
	if sleep.count != 3 || sleep.total != 6*time.Second {
		t.Fatalf("expected 3 sleeps totalling 6s, got %d / %v", sleep.count, sleep.total)
	}
}

func TestGenerateImageFailed(t *testing.T) {
	f := &fakeDashScope{statuses: []string{"RUNNING", "FAILED"}, message: "InvalidParameter"}
	c := newClient(t, f, &recordingSleep{})

	_, err := c.GenerateImage(context.Background(), "x")
	var te *providers.TransportError
	if !errors.As(err, &te) || te.Message != "InvalidParameter" || te.Provider != chat.ProviderQwen {
		t.Fatalf("expected vendor failure, got %v", err)
	}
	if f.polls != 2 {
		t.Fatalf("expected to stop at the failed poll, got %d polls", f.polls)
	}
}

func TestGenerateImageTimeout(t *testing.T) {
	f := &fakeDashScope{statuses: []string{"PENDING"}}
	sleep := &recordingSleep{}
	c := newClient(t, f, sleep)

	_, err := c.GenerateImage(context.Background(), "x")
	if !errors.Is(err, providers.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if f.polls != 60 || sleep.count != 60 {
		t.Fatalf("expected 60 attempts, got polls=%d sleeps=%d", f.polls, sleep.count)
	}
}

func TestGenerateImageSubmitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"code":"InvalidApiKey","message":"Invalid API-key provided."}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "bad"})
	_, err := c.GenerateImage(context.Background(), "x")
	var te *providers.TransportError
	if !errors.As(err, &te) || te.Message != "Invalid API-key provided." || te.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestStreamUsesCompatibleMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/compatible-mode/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "qk"})
	resp, err := c.Stream(context.Background(), providers.ChatRequest{
		Model:    "qwen-max",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "ping"}},
	}, nil)
	if err != nil || resp.Text != "ok" {
		t.Fatalf("unexpected result %q err=%v", resp.Text, err)
	}
}
