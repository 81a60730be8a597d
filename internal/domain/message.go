package domain

import "time"

// Role constants for message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// EnsembleResponse is one model's answer inside an ensemble message.
type EnsembleResponse struct {
	Model     string `json:"model"`
	Content   string `json:"content"`
	Streaming bool   `json:"streaming"`
	Failed    bool   `json:"failed,omitempty"`
}

// Message is a single turn in a conversation. IDs are assigned by the
// engine at creation time, never by the backend.
//
// Streaming and a non-nil Ensemble are mutually exclusive ways of marking
// "in progress": Streaming covers single-backend generation, Ensemble
// covers multi-backend generation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"streaming,omitempty"`

	// Ensemble holds per-model answers when multiple backends respond to
	// the same prompt. Order is first-seen model order.
	Ensemble []EnsembleResponse `json:"ensemble,omitempty"`

	// Alternatives holds full regenerated answers; CurrentIndex selects the
	// one currently displayed. Invariant: 0 <= CurrentIndex <= len(Alternatives),
	// where CurrentIndex == len means "append next".
	Alternatives []string `json:"alternatives,omitempty"`
	CurrentIndex int      `json:"current_index,omitempty"`
}
