// Package session holds the in-memory chat state and mediates every change
// through the persistence backend.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"multichat/internal/catalog"
	"multichat/internal/chat"
	"multichat/internal/storage"
)

var ErrNoChatSelected = errors.New("no chat selected")

type Config struct {
	Backend storage.Backend
	Catalog *catalog.Catalog
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Session is the single owner of chat, message and streaming state. The
// in-flight assistant reply lives in draft, outside the persisted list.
type Session struct {
	backend storage.Backend
	catalog *catalog.Catalog
	log     zerolog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	chats     []chat.Chat
	selected  string
	messages  []chat.Message
	draft     *chat.Message
	loading   bool
	streaming bool
	err       error
}

func New(cfg Config) *Session {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		backend: cfg.Backend,
		catalog: cfg.Catalog,
		log:     cfg.Logger,
		now:     cfg.Now,
	}
}

func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

// FetchChats replaces the chat list with the backend's.
func (s *Session) FetchChats(ctx context.Context) error {
	s.setLoading(true)
	defer s.setLoading(false)

	chats, err := s.backend.ListChats(ctx)
	if err != nil {
		err = fmt.Errorf("fetch chats: %w", err)
		s.SetError(err)
		return err
	}

	s.mu.Lock()
	s.chats = chats
	s.mu.Unlock()
	return nil
}

type NewChat struct {
	Title        string
	Type         chat.Type
	Provider     chat.Provider
	Model        string
	SystemPrompt string
}

// CreateChat persists a chat, prepends it and selects it with an empty
// message list.
func (s *Session) CreateChat(ctx context.Context, in NewChat) (chat.Chat, error) {
	if in.Type == "" {
		in.Type = chat.TypeText
	}
	if err := s.catalog.Validate(in.Provider, in.Model, in.Type); err != nil {
		return chat.Chat{}, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = chat.DefaultTitle
	}

	created, err := s.backend.CreateChat(ctx, chat.Chat{
		Title:        title,
		Type:         in.Type,
		Provider:     in.Provider,
		Model:        in.Model,
		SystemPrompt: in.SystemPrompt,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return chat.Chat{}, fmt.Errorf("create chat: %w", err)
	}

	s.mu.Lock()
	s.chats = append([]chat.Chat{created}, s.chats...)
	s.selected = created.ID
	s.messages = nil
	s.mu.Unlock()

	s.log.Info().Str("chat_id", created.ID).Str("provider", string(created.Provider)).Str("model", created.Model).Msg("chat created")
	return created, nil
}

// SelectChat loads the chat's messages. It leaves streaming state alone.
func (s *Session) SelectChat(ctx context.Context, id string) error {
	s.setLoading(true)
	defer s.setLoading(false)

	msgs, err := s.backend.ListMessages(ctx, id)
	if err != nil {
		err = fmt.Errorf("load messages: %w", err)
		s.SetError(err)
		return err
	}

	s.mu.Lock()
	s.selected = id
	s.messages = msgs
	s.mu.Unlock()
	return nil
}

func (s *Session) DeleteChat(ctx context.Context, id string) error {
	if err := s.backend.DeleteChat(ctx, id); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}

	s.mu.Lock()
	kept := make([]chat.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.chats = kept
	wasSelected := s.selected == id
	if wasSelected {
		s.selected = ""
	}
	s.mu.Unlock()

	if wasSelected {
		s.ClearMessages()
	}
	return nil
}

// UpdateChat persists patch and applies the stored result in memory.
// Provider or model changes are checked against the catalog.
func (s *Session) UpdateChat(ctx context.Context, id string, patch chat.ChatPatch) (chat.Chat, error) {
	if patch.Empty() {
		return chat.Chat{}, fmt.Errorf("update chat: empty patch")
	}
	if patch.Provider != nil || patch.Model != nil {
		current, ok := s.Chat(id)
		if !ok {
			return chat.Chat{}, fmt.Errorf("update chat %s: %w", id, storage.ErrNotFound)
		}
		next := patch.Apply(current, s.now())
		if err := s.catalog.Validate(next.Provider, next.Model, next.Type); err != nil {
			return chat.Chat{}, err
		}
	}

	updated, err := s.backend.UpdateChat(ctx, id, patch)
	if err != nil {
		return chat.Chat{}, fmt.Errorf("update chat: %w", err)
	}

	s.mu.Lock()
	for i := range s.chats {
		if s.chats[i].ID == id {
			s.chats[i] = updated
			break
		}
	}
	s.mu.Unlock()
	return updated, nil
}

// AppendMessage persists m and appends the stored copy when m belongs to the
// selected chat.
func (s *Session) AppendMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	if m.ChatID == "" {
		return chat.Message{}, ErrNoChatSelected
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	stored, err := s.backend.AppendMessage(ctx, m)
	if err != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}

	s.mu.Lock()
	if s.selected == stored.ChatID {
		s.messages = append(s.messages, stored)
	}
	s.mu.Unlock()
	return stored, nil
}

// AppendStreamChunk grows the draft reply, creating it on the first chunk.
// Nothing is persisted.
func (s *Session) AppendStreamChunk(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		s.draft = &chat.Message{
			ID:        chat.StreamingID,
			ChatID:    s.selected,
			Role:      chat.RoleAssistant,
			Content:   chunk,
			CreatedAt: s.now(),
		}
		return
	}
	s.draft.Content += chunk
}

// FinalizeStream persists the assistant reply with text and puts it where the
// draft was. The streaming flag is cleared on success.
func (s *Session) FinalizeStream(ctx context.Context, chatID, text string) (chat.Message, error) {
	stored, err := s.backend.AppendMessage(ctx, chat.Message{
		ChatID:    chatID,
		Role:      chat.RoleAssistant,
		Content:   text,
		CreatedAt: s.now(),
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("finalize stream: %w", err)
	}

	s.mu.Lock()
	if s.selected == chatID {
		s.messages = append(s.messages, stored)
	}
	s.draft = nil
	s.streaming = false
	s.mu.Unlock()
	return stored, nil
}

// AbandonStream drops the draft without persisting it.
func (s *Session) AbandonStream() {
	s.mu.Lock()
	s.draft = nil
	s.streaming = false
	s.mu.Unlock()
}

func (s *Session) SetStreaming(v bool) {
	s.mu.Lock()
	s.streaming = v
	s.mu.Unlock()
}

// SetError records err in the error slot. nil clears it.
func (s *Session) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	if err != nil {
		s.log.Warn().Err(err).Msg("session error")
	}
}

// ClearMessages empties the message list and drops any draft. The selection
// is kept.
func (s *Session) ClearMessages() {
	s.mu.Lock()
	s.messages = nil
	s.draft = nil
	s.mu.Unlock()
}

func (s *Session) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Session) Chats() []chat.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Chat, len(s.chats))
	copy(out, s.chats)
	return out
}

func (s *Session) Chat(id string) (chat.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chats {
		if c.ID == id {
			return c, true
		}
	}
	return chat.Chat{}, false
}

func (s *Session) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Messages returns the persisted messages of the selected chat.
func (s *Session) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Draft() (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draft == nil {
		return chat.Message{}, false
	}
	return *s.draft, true
}

// View is the message list as rendered: persisted messages followed by the
// draft, if any.
func (s *Session) View() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, 0, len(s.messages)+1)
	out = append(out, s.messages...)
	if s.draft != nil && s.draft.ChatID == s.selected {
		out = append(out, *s.draft)
	}
	return out
}

func (s *Session) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
