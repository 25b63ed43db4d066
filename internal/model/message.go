package model

import "time"

// MessageRole is the author of a task chat message.
type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleAgent MessageRole = "agent"
)

// Message is a chat-style record of a task. Agent messages content is updated while
// the agent output is streamed.
type Message struct {
	ID        string
	TaskID    string
	Role      MessageRole
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
