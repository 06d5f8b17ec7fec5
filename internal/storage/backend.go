// Package storage defines the persistence contract for chats and messages.
// Exactly one implementation is chosen at startup: remote (SQL) or device (KV).
package storage

import (
	"context"
	"errors"

	"multichat/internal/chat"
)

var ErrNotFound = errors.New("not found")

type Kind string

const (
	KindRemote Kind = "remote"
	KindDevice Kind = "device"
)

type Backend interface {
	// ListChats returns every chat, newest first.
	ListChats(ctx context.Context) ([]chat.Chat, error)
	// CreateChat assigns the id and returns the stored chat.
	CreateChat(ctx context.Context, c chat.Chat) (chat.Chat, error)
	// UpdateChat applies patch and returns the stored chat.
	UpdateChat(ctx context.Context, id string, patch chat.ChatPatch) (chat.Chat, error)
	// DeleteChat removes the chat and all of its messages.
	DeleteChat(ctx context.Context, id string) error
	// ListMessages returns the chat's messages, oldest first.
	ListMessages(ctx context.Context, chatID string) ([]chat.Message, error)
	// AppendMessage assigns the id and returns the stored message.
	AppendMessage(ctx context.Context, m chat.Message) (chat.Message, error)
	Kind() Kind
	Close() error
}
