package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Category tags a message with how it was produced
type Category string

const (
	CategoryNone         Category = ""
	CategoryVoicePartial Category = "voice-partial"
	CategoryToolStart    Category = "tool-start"
	CategoryToolResult   Category = "tool-result"
	CategoryToolError    Category = "tool-error"
)

// Message is one entry in the conversation transcript. Voice messages
// stay mutable while streaming and become immutable once finalized.
type Message struct {
	ID        string         `json:"id"`
	Seq       uint64         `json:"seq"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Category  Category       `json:"category,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"` // Raw tool result, for inspection
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Final     bool           `json:"final"`
}

func newMessage(seq uint64, role Role, content string, category Category) *Message {
	now := time.Now()
	return &Message{
		ID:        uuid.New().String(),
		Seq:       seq,
		Role:      role,
		Content:   content,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (m *Message) touch() {
	m.UpdatedAt = time.Now()
}

// clone returns a snapshot safe to hand to readers
func (m *Message) clone() Message {
	c := *m
	return c
}
