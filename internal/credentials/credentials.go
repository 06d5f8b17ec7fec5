// Package credentials keeps the per-provider API keys on the device. Keys are
// stored in plain text and never sent to the chat backend.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"multichat/internal/chat"
	"multichat/internal/kv"
)

type Store struct {
	kv  kv.Store
	key string

	mu      sync.RWMutex
	secrets map[chat.Provider]string
	env     map[chat.Provider]string
}

// New returns a store persisting under "<namespace>:api-keys". env holds
// keys supplied by the environment; they apply when no stored key exists.
func New(store kv.Store, namespace string, env map[chat.Provider]string) *Store {
	overlay := make(map[chat.Provider]string, len(env))
	for p, v := range env {
		if strings.TrimSpace(v) != "" {
			overlay[p] = v
		}
	}
	return &Store{
		kv:      store,
		key:     namespace + ":api-keys",
		secrets: map[chat.Provider]string{},
		env:     overlay,
	}
}

func (s *Store) Load(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	secrets := map[chat.Provider]string{}
	if err := json.Unmarshal([]byte(raw), &secrets); err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}

	s.mu.Lock()
	s.secrets = secrets
	s.mu.Unlock()
	return nil
}

// Set stores secret for p. A blank secret removes the entry.
func (s *Store) Set(ctx context.Context, p chat.Provider, secret string) error {
	if !p.Valid() {
		return fmt.Errorf("unknown provider %q", p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[chat.Provider]string, len(s.secrets)+1)
	for k, v := range s.secrets {
		next[k] = v
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		delete(next, p)
	} else {
		next[p] = secret
	}

	b, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(b)); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	s.secrets = next
	return nil
}

func (s *Store) Credential(p chat.Provider) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v := strings.TrimSpace(s.secrets[p]); v != "" {
		return v, true
	}
	if v, ok := s.env[p]; ok {
		return v, true
	}
	return "", false
}

// Configured lists providers that currently resolve to a key.
func (s *Store) Configured() []chat.Provider {
	var out []chat.Provider
	for _, p := range chat.Providers() {
		if _, ok := s.Credential(p); ok {
			out = append(out, p)
		}
	}
	return out
}
