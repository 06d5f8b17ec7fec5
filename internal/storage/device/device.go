// Package device stores chats and messages as JSON blobs in the on-device
// key-value store.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"multichat/internal/chat"
	"multichat/internal/kv"
	"multichat/internal/storage"
)

type Store struct {
	kv        kv.Store
	namespace string
	now       func() time.Time

	mu sync.Mutex
}

// New does not take ownership of store; Close leaves it open.
func New(store kv.Store, namespace string) *Store {
	return &Store{kv: store, namespace: namespace, now: time.Now}
}

var _ storage.Backend = (*Store)(nil)

func (s *Store) chatsKey() string {
	return s.namespace + ":local-chats"
}

func (s *Store) messagesKey(chatID string) string {
	return s.namespace + ":local-messages:" + chatID
}

func (s *Store) Kind() storage.Kind {
	return storage.KindDevice
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) ListChats(ctx context.Context) ([]chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var chats []chat.Chat
	if err := s.load(ctx, s.chatsKey(), &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (s *Store) CreateChat(ctx context.Context, c chat.Chat) (chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chats []chat.Chat
	if err := s.load(ctx, s.chatsKey(), &chats); err != nil {
		return chat.Chat{}, err
	}
	c.ID = uuid.NewString()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = nil

	chats = append([]chat.Chat{c}, chats...)
	if err := s.save(ctx, s.chatsKey(), chats); err != nil {
		return chat.Chat{}, err
	}
	return c, nil
}

func (s *Store) UpdateChat(ctx context.Context, id string, patch chat.ChatPatch) (chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chats []chat.Chat
	if err := s.load(ctx, s.chatsKey(), &chats); err != nil {
		return chat.Chat{}, err
	}
	for i := range chats {
		if chats[i].ID != id {
			continue
		}
		chats[i] = patch.Apply(chats[i], s.now())
		if err := s.save(ctx, s.chatsKey(), chats); err != nil {
			return chat.Chat{}, err
		}
		return chats[i], nil
	}
	return chat.Chat{}, storage.ErrNotFound
}

// DeleteChat rewrites the chat list and then removes the message blob.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chats []chat.Chat
	if err := s.load(ctx, s.chatsKey(), &chats); err != nil {
		return err
	}
	kept := chats[:0]
	found := false
	for _, c := range chats {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return storage.ErrNotFound
	}
	if err := s.save(ctx, s.chatsKey(), kept); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, s.messagesKey(id)); err != nil {
		return fmt.Errorf("delete messages of %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []chat.Message
	if err := s.load(ctx, s.messagesKey(chatID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) AppendMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	if m.IsDraft() {
		return chat.Message{}, fmt.Errorf("refusing to persist the streaming placeholder")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []chat.Message
	if err := s.load(ctx, s.messagesKey(m.ChatID), &msgs); err != nil {
		return chat.Message{}, err
	}
	m.ID = uuid.NewString()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	msgs = append(msgs, m)
	if err := s.save(ctx, s.messagesKey(m.ChatID), msgs); err != nil {
		return chat.Message{}, err
	}
	return m, nil
}

func (s *Store) load(ctx context.Context, key string, dst any) error {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(b)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
