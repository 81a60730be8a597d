package domain

import "time"

// DefaultTitle is the title of a conversation before its first user message.
const DefaultTitle = "New Chat"

// Conversation holds an ordered sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Folder groups conversations. A conversation belongs to at most one folder.
type Folder struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Conversations []string `json:"conversations"`
	Expanded      bool     `json:"expanded"`
}

// Counters are the aggregate totals over every message in every conversation.
type Counters struct {
	Messages int `json:"messages"`
	Tokens   int `json:"tokens"`
}

// Snapshot is the unit of persistence: everything the store owns.
type Snapshot struct {
	Conversations         []Conversation `json:"conversations"`
	CurrentConversationID string         `json:"current_conversation_id,omitempty"`
	Folders               []Folder       `json:"folders"`
}
