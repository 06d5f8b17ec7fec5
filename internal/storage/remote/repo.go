package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"multichat/internal/chat"
	"multichat/internal/storage"
)

var _ storage.Backend = (*Store)(nil)

var chatColumns = []string{"id", "title", "type", "provider", "model", "system_prompt", "created_at", "updated_at"}

func (s *Store) Kind() storage.Kind {
	return storage.KindRemote
}

func (s *Store) ListChats(ctx context.Context) ([]chat.Chat, error) {
	query, args, err := s.sql.Select(chatColumns...).
		From("chats").
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []chat.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

func (s *Store) CreateChat(ctx context.Context, c chat.Chat) (chat.Chat, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.CreatedAt = c.CreatedAt.UTC()

	query, args, err := s.sql.Insert("chats").
		Columns("title", "type", "provider", "model", "system_prompt", "created_at").
		Values(c.Title, string(c.Type), string(c.Provider), c.Model, nullString(c.SystemPrompt), c.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return chat.Chat{}, fmt.Errorf("build create chat query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&c.ID); err != nil {
		return chat.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	c.UpdatedAt = nil
	return c, nil
}

func (s *Store) UpdateChat(ctx context.Context, id string, patch chat.ChatPatch) (chat.Chat, error) {
	now := time.Now().UTC()
	q := s.sql.Update("chats").Set("updated_at", now).Where(sq.Eq{"id": id})
	if patch.Title != nil {
		q = q.Set("title", *patch.Title)
	}
	if patch.SystemPrompt != nil {
		q = q.Set("system_prompt", nullString(*patch.SystemPrompt))
	}
	if patch.Provider != nil {
		q = q.Set("provider", string(*patch.Provider))
	}
	if patch.Model != nil {
		q = q.Set("model", *patch.Model)
	}

	query, args, err := q.Suffix("RETURNING " + strings.Join(chatColumns, ", ")).ToSql()
	if err != nil {
		return chat.Chat{}, fmt.Errorf("build update chat query: %w", err)
	}
	c, err := scanChat(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Chat{}, storage.ErrNotFound
		}
		return chat.Chat{}, fmt.Errorf("update chat: %w", err)
	}
	return c, nil
}

// DeleteChat removes the messages first, then the chat, in one transaction.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete chat: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := s.sql.Delete("messages").Where(sq.Eq{"chat_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete messages query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	query, args, err = s.sql.Delete("chats").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete chat query: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat: %w", err)
	}
	s.log.Debug().Str("chat_id", id).Msg("chat deleted")
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	query, args, err := s.sql.Select("id", "chat_id", "role", "content", "image_url", "created_at").
		From("messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			m        chat.Message
			role     string
			imageURL sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &imageURL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.ImageURL = imageURL.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	if m.IsDraft() {
		return chat.Message{}, fmt.Errorf("refusing to persist the streaming placeholder")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC()

	query, args, err := s.sql.Insert("messages").
		Columns("chat_id", "role", "content", "image_url", "created_at").
		Values(m.ChatID, string(m.Role), m.Content, nullString(m.ImageURL), m.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return chat.Message{}, fmt.Errorf("build append message query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&m.ID); err != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(r rowScanner) (chat.Chat, error) {
	var (
		c            chat.Chat
		typ, prov    string
		systemPrompt sql.NullString
		updatedAt    sql.NullTime
	)
	if err := r.Scan(&c.ID, &c.Title, &typ, &prov, &c.Model, &systemPrompt, &c.CreatedAt, &updatedAt); err != nil {
		return chat.Chat{}, err
	}
	c.Type = chat.Type(typ)
	c.Provider = chat.Provider(prov)
	c.SystemPrompt = systemPrompt.String
	if updatedAt.Valid {
		t := updatedAt.Time
		c.UpdatedAt = &t
	}
	return c, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
