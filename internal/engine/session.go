package engine

import (
	"astrachat/internal/domain"
)

// Session correlates inbound protocol events with the in-flight request
// they belong to. It lives for the lifetime of one logical request and is
// reset at well-defined points: BeginSend/BeginRegenerate when a command is
// issued, ClearTerminal when the request's terminal event is processed.
//
// ActiveConversationID deliberately survives ClearTerminal so a delayed or
// duplicate inbound event can still be attributed to its conversation.
type Session struct {
	ActiveConversationID string
	ActiveMessageID      string

	// Chunked records whether fragments streamed in for the active message;
	// when they did, accumulated content wins over a redundant final
	// response on the terminal event.
	Chunked bool

	Ensemble     EnsembleTracker
	Regeneration *Regeneration
}

// Regeneration tracks the alternative answers while one of them is being
// re-generated. CurrentIndex may equal len(Alternatives), meaning the new
// candidate is appended.
type Regeneration struct {
	Alternatives []string
	CurrentIndex int
}

// BeginSend arms the session for a fresh single-backend request.
func (s *Session) BeginSend(conversationID string) {
	s.ActiveConversationID = conversationID
	s.ActiveMessageID = ""
	s.Chunked = false
	s.Ensemble.Reset()
	s.Regeneration = nil
}

// BeginRegenerate arms the session for re-generating an existing assistant
// message. The alternatives slice is copied; callers keep ownership.
func (s *Session) BeginRegenerate(conversationID, messageID string, alternatives []string, currentIndex int) {
	s.ActiveConversationID = conversationID
	s.ActiveMessageID = messageID
	s.Chunked = false
	s.Ensemble.Reset()
	if currentIndex < 0 {
		currentIndex = 0
	}
	if currentIndex > len(alternatives) {
		currentIndex = len(alternatives)
	}
	s.Regeneration = &Regeneration{
		Alternatives: append([]string(nil), alternatives...),
		CurrentIndex: currentIndex,
	}
	// The target slot restarts empty; stale text must not leak into the
	// fragments accumulating for the new candidate.
	if currentIndex < len(s.Regeneration.Alternatives) {
		s.Regeneration.Alternatives[currentIndex] = ""
	}
}

// ClearTerminal resets per-request state after a terminal event, keeping
// ActiveConversationID for late-event attribution.
func (s *Session) ClearTerminal() {
	s.ActiveMessageID = ""
	s.Chunked = false
	s.Ensemble.Reset()
	s.Regeneration = nil
}

// EnsembleTracker accumulates per-model partial responses for an ensemble
// cycle. Iteration order is the order model tags were first seen, so the
// displayed set is stable while chunks interleave.
type EnsembleTracker struct {
	Expected int
	order    []string
	byModel  map[string]*domain.EnsembleResponse
}

// Upsert creates or updates the entry for model and returns it.
func (t *EnsembleTracker) Upsert(model string) *domain.EnsembleResponse {
	if t.byModel == nil {
		t.byModel = make(map[string]*domain.EnsembleResponse)
	}
	if r, ok := t.byModel[model]; ok {
		return r
	}
	r := &domain.EnsembleResponse{Model: model}
	t.byModel[model] = r
	t.order = append(t.order, model)
	return r
}

// Clone returns a deep copy sharing no state with the receiver.
func (t *EnsembleTracker) Clone() EnsembleTracker {
	cp := EnsembleTracker{Expected: t.Expected}
	if len(t.order) == 0 {
		return cp
	}
	cp.order = append([]string(nil), t.order...)
	cp.byModel = make(map[string]*domain.EnsembleResponse, len(t.byModel))
	for model, r := range t.byModel {
		rc := *r
		cp.byModel[model] = &rc
	}
	return cp
}

// Responses returns the tracked entries in first-seen order.
func (t *EnsembleTracker) Responses() []domain.EnsembleResponse {
	out := make([]domain.EnsembleResponse, 0, len(t.order))
	for _, model := range t.order {
		out = append(out, *t.byModel[model])
	}
	return out
}

// Len reports how many distinct models have been seen.
func (t *EnsembleTracker) Len() int { return len(t.order) }

// Reset clears the tracker and the expected size.
func (t *EnsembleTracker) Reset() {
	t.Expected = 0
	t.order = nil
	t.byModel = nil
}
