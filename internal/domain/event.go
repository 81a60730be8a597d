package domain

import "encoding/json"

// EventType identifies an inbound protocol event from the generation backend.
// The set is closed: the router registers a handler for every type, and an
// unknown type is dropped with a warning rather than dispatched.
type EventType string

const (
	EventThinking         EventType = "thinking"
	EventChunk            EventType = "chunk"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
	EventStopped          EventType = "stopped"
	EventMultiLLMStart    EventType = "multi_llm_start"
	EventMultiLLMChunk    EventType = "multi_llm_chunk"
	EventMultiLLMComplete EventType = "multi_llm_complete"
)

// EventTypes lists every inbound event type the engine understands.
func EventTypes() []EventType {
	return []EventType{
		EventThinking,
		EventChunk,
		EventComplete,
		EventError,
		EventStopped,
		EventMultiLLMStart,
		EventMultiLLMChunk,
		EventMultiLLMComplete,
	}
}

// Event is the envelope delivered from the connection to the router.
// Raw holds the full wire object; handlers unmarshal their typed payload
// from it so new fields never break dispatch.
type Event struct {
	Type EventType
	Raw  json.RawMessage
}

// ChunkPayload carries one streamed text fragment.
type ChunkPayload struct {
	Chunk       string `json:"chunk"`
	Accumulated string `json:"accumulated,omitempty"`
}

// CompletePayload terminates a single-backend generation cycle.
// Response, when present, is the backend's authoritative full text.
type CompletePayload struct {
	Response     string `json:"response,omitempty"`
	WasStreaming bool   `json:"was_streaming,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// ErrorPayload carries a protocol-level generation failure.
type ErrorPayload struct {
	Error string `json:"error"`
}

// MultiLLMStartPayload opens an ensemble cycle.
type MultiLLMStartPayload struct {
	TotalModels int `json:"total_models"`
}

// MultiLLMChunkPayload carries one fragment from one ensemble model.
type MultiLLMChunkPayload struct {
	Model       string `json:"model"`
	Chunk       string `json:"chunk"`
	Accumulated string `json:"accumulated,omitempty"`
}

// MultiLLMCompletePayload finalizes one ensemble model's answer.
type MultiLLMCompletePayload struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}
