package chat

import (
	"strings"
	"time"
)

type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderZhipu     Provider = "zhipu"
	ProviderQwen      Provider = "qwen"
)

// Providers lists every supported vendor in display order.
func Providers() []Provider {
	return []Provider{
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderGoogle,
		ProviderDeepSeek,
		ProviderZhipu,
		ProviderQwen,
	}
}

func (p Provider) Valid() bool {
	for _, known := range Providers() {
		if p == known {
			return true
		}
	}
	return false
}

// StreamingID is the reserved id of the in-flight assistant reply. A message
// with this id is never persisted.
const StreamingID = "__streaming__"

const (
	DefaultTitle   = "New Chat"
	titleMaxLength = 40
)

type Chat struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Type         Type       `json:"type"`
	Provider     Provider   `json:"provider"`
	Model        string     `json:"model"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (m Message) IsDraft() bool {
	return m.ID == StreamingID
}

// ChatPatch carries the editable chat fields. Nil fields are left untouched.
type ChatPatch struct {
	Title        *string
	SystemPrompt *string
	Provider     *Provider
	Model        *string
}

func (p ChatPatch) Empty() bool {
	return p.Title == nil && p.SystemPrompt == nil && p.Provider == nil && p.Model == nil
}

// Apply returns c with the patch applied and UpdatedAt set to now.
func (p ChatPatch) Apply(c Chat, now time.Time) Chat {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.SystemPrompt != nil {
		c.SystemPrompt = *p.SystemPrompt
	}
	if p.Provider != nil {
		c.Provider = *p.Provider
	}
	if p.Model != nil {
		c.Model = *p.Model
	}
	c.UpdatedAt = &now
	return c
}

// DeriveTitle turns the first user message into a chat title.
func DeriveTitle(text string) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= titleMaxLength {
		return text
	}
	return string(r[:titleMaxLength]) + "…"
}
