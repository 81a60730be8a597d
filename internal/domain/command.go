package domain

import "time"

// CommandType identifies an outbound command sent to the backend.
type CommandType string

const (
	CommandGenerate CommandType = "generate"
	CommandStop     CommandType = "stop"
)

// Command is an outbound protocol message. Generate commands carry the
// user text and correlation ids; regeneration reuses the same command with
// Regenerate set and the existing assistant message referenced.
type Command struct {
	Type               CommandType `json:"type"`
	Message            string      `json:"message,omitempty"`
	Streaming          bool        `json:"streaming,omitempty"`
	Timestamp          time.Time   `json:"timestamp"`
	MessageID          string      `json:"message_id,omitempty"`
	ConversationID     string      `json:"conversation_id,omitempty"`
	Regenerate         bool        `json:"regenerate,omitempty"`
	AssistantMessageID string      `json:"assistant_message_id,omitempty"`
}

// CommandSender delivers outbound commands over the active channel.
// Implementations must be safe for concurrent use.
type CommandSender interface {
	Send(cmd Command) error
}
