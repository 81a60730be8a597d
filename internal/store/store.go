// Package store holds the authoritative chat state: conversations, folders
// and aggregate counters. All mutation goes through named transitions that
// never panic; an unknown id makes the transition a no-op. Reads return
// copies so callers can never alias internal state.
package store

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"astrachat/internal/assemble"
	"astrachat/internal/domain"
)

const titleLimit = 48

// Store is the single authoritative state container.
type Store struct {
	mu            sync.RWMutex
	conversations []domain.Conversation
	current       string
	folders       []domain.Folder
	counters      domain.Counters
	counter       TokenCounter
	onChange      func(domain.Snapshot)

	deliverMu sync.Mutex
	seq       uint64 // last snapshot taken, guarded by mu
	delivered uint64 // last snapshot handed to the hook, guarded by deliverMu
}

// New creates an empty store using the given token counter.
// A nil counter falls back to the heuristic estimator.
func New(counter TokenCounter) *Store {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &Store{counter: counter}
}

// OnChange registers a hook invoked with a full snapshot after every
// transition that mutated state. Used to wire the persistence collaborator.
func (s *Store) OnChange(fn func(domain.Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func newULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// changed captures a snapshot under the lock; the returned func fires the
// hook after the lock is released. Snapshots carry a sequence number so
// deliveries racing from different goroutines cannot hand the hook an
// older snapshot after a newer one already went out.
func (s *Store) changed() func() {
	if s.onChange == nil {
		return func() {}
	}
	s.seq++
	seq := s.seq
	snap := s.snapshotLocked()
	fn := s.onChange
	return func() {
		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()
		if seq <= s.delivered {
			return
		}
		s.delivered = seq
		fn(snap)
	}
}

// --- conversation transitions ---

// CreateConversation inserts a new conversation and makes it current.
func (s *Store) CreateConversation() domain.Conversation {
	s.mu.Lock()
	now := time.Now()
	conv := domain.Conversation{
		ID:        newULID(now),
		Title:     domain.DefaultTitle,
		Messages:  []domain.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations = append(s.conversations, conv)
	s.current = conv.ID
	fire := s.changed()
	out := copyConversation(conv)
	s.mu.Unlock()
	fire()
	return out
}

// SetCurrent selects the conversation to display. No-op for unknown ids.
func (s *Store) SetCurrent(id string) bool {
	s.mu.Lock()
	if s.findConversation(id) == nil {
		s.mu.Unlock()
		return false
	}
	s.current = id
	fire := s.changed()
	s.mu.Unlock()
	fire()
	return true
}

// AppendMessage assigns a fresh id to msg and appends it to the
// conversation, bumping message and token counters. The first user message
// also titles the conversation. No-op if the conversation does not exist.
func (s *Store) AppendMessage(convID string, msg domain.Message) (domain.Message, bool) {
	s.mu.Lock()
	conv := s.findConversation(convID)
	if conv == nil {
		s.mu.Unlock()
		return domain.Message{}, false
	}
	now := time.Now()
	msg.ID = newULID(now)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now
	if conv.Title == domain.DefaultTitle && msg.Role == domain.RoleUser {
		conv.Title = deriveTitle(msg.Content)
	}
	s.counters.Messages++
	s.counters.Tokens += s.counter.Count(msg.Content)
	fire := s.changed()
	out := copyMessage(msg)
	s.mu.Unlock()
	fire()
	return out, true
}

// MessageUpdate is a partial update: nil fields are left untouched.
// Ensemble distinguishes "untouched" (nil) from "set empty" (non-nil empty).
type MessageUpdate struct {
	Content      *string
	Streaming    *bool
	Ensemble     []domain.EnsembleResponse
	Alternatives *AlternativesUpdate
}

// AlternativesUpdate replaces the alternative-response list and its
// current index together, keeping the index invariant intact.
type AlternativesUpdate struct {
	List  []string
	Index int
}

// ReplaceMessageContent merges only the fields upd provides into the
// message, recomputing the token delta if content changed.
func (s *Store) ReplaceMessageContent(convID, msgID string, upd MessageUpdate) bool {
	s.mu.Lock()
	conv := s.findConversation(convID)
	if conv == nil {
		s.mu.Unlock()
		return false
	}
	msg := findMessage(conv, msgID)
	if msg == nil {
		s.mu.Unlock()
		return false
	}
	if upd.Content != nil {
		s.counters.Tokens += s.counter.Count(*upd.Content) - s.counter.Count(msg.Content)
		msg.Content = *upd.Content
	}
	if upd.Streaming != nil {
		msg.Streaming = *upd.Streaming
	}
	if upd.Ensemble != nil {
		msg.Ensemble = copyEnsemble(upd.Ensemble)
	}
	if upd.Alternatives != nil {
		list := append([]string(nil), upd.Alternatives.List...)
		idx := upd.Alternatives.Index
		if idx < 0 {
			idx = 0
		}
		if idx > len(list) {
			idx = len(list)
		}
		msg.Alternatives = list
		msg.CurrentIndex = idx
	}
	conv.UpdatedAt = time.Now()
	fire := s.changed()
	s.mu.Unlock()
	fire()
	return true
}

// AppendChunk merges fragment into the message's current content via the
// chunk assembler and applies the resulting token delta.
func (s *Store) AppendChunk(convID, msgID, fragment string, streaming *bool) bool {
	s.mu.Lock()
	conv := s.findConversation(convID)
	if conv == nil {
		s.mu.Unlock()
		return false
	}
	msg := findMessage(conv, msgID)
	if msg == nil {
		s.mu.Unlock()
		return false
	}
	merged := assemble.Merge(msg.Content, fragment)
	s.counters.Tokens += s.counter.Count(merged) - s.counter.Count(msg.Content)
	msg.Content = merged
	if streaming != nil {
		msg.Streaming = *streaming
	}
	conv.UpdatedAt = time.Now()
	fire := s.changed()
	s.mu.Unlock()
	fire()
	return true
}

// ClearStreamingFlags clears the streaming flag of every message in the
// conversation still marked streaming. Defensive sweep used at cycle end.
func (s *Store) ClearStreamingFlags(convID string) {
	s.mu.Lock()
	conv := s.findConversation(convID)
	if conv == nil {
		s.mu.Unlock()
		return
	}
	dirty := false
	for i := range conv.Messages {
		if conv.Messages[i].Streaming {
			conv.Messages[i].Streaming = false
			dirty = true
		}
	}
	if !dirty {
		s.mu.Unlock()
		return
	}
	fire := s.changed()
	s.mu.Unlock()
	fire()
}

// DeleteConversation removes a conversation and its folder membership.
// If it was current, current becomes empty.
func (s *Store) DeleteConversation(id string) bool {
	s.mu.Lock()
	idx := -1
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	for _, m := range s.conversations[idx].Messages {
		s.counters.Messages--
		s.counters.Tokens -= s.counter.Count(m.Content)
	}
	s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)
	for i := range s.folders {
		s.folders[i].Conversations = removeString(s.folders[i].Conversations, id)
	}
	if s.current == id {
		s.current = ""
	}
	fire := s.changed()
	s.mu.Unlock()
	fire()
	return true
}

// DeleteAllConversations removes every conversation and resets counters.
// Folders survive with emptied membership.
func (s *Store) DeleteAllConversations() {
	s.mu.Lock()
	s.conversations = nil
	s.current = ""
	s.counters = domain.Counters{}
	for i := range s.folders {
		s.folders[i].Conversations = nil
	}
	fire := s.changed()
	s.mu.Unlock()
	fire()
}

// --- read accessors ---

// Current returns a copy of the selected conversation, or nil.
func (s *Store) Current() *domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv := s.findConversation(s.current)
	if conv == nil {
		return nil
	}
	cp := copyConversation(*conv)
	return &cp
}

// CurrentID returns the selected conversation id, or "".
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Conversation returns a copy of the identified conversation.
func (s *Store) Conversation(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv := s.findConversation(id)
	if conv == nil {
		return domain.Conversation{}, false
	}
	return copyConversation(*conv), true
}

// Message returns a copy of one message.
func (s *Store) Message(convID, msgID string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv := s.findConversation(convID)
	if conv == nil {
		return domain.Message{}, false
	}
	msg := findMessage(conv, msgID)
	if msg == nil {
		return domain.Message{}, false
	}
	return copyMessage(*msg), true
}

// Conversations returns a copy of the full conversation list.
func (s *Store) Conversations() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = copyConversation(c)
	}
	return out
}

// Counters returns the aggregate message/token totals.
func (s *Store) Counters() domain.Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

// Snapshot returns a full copy of the store contents.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Restore replaces the store contents from a snapshot and recomputes
// counters from scratch. Used at startup.
func (s *Store) Restore(snap domain.Snapshot) {
	s.mu.Lock()
	s.conversations = make([]domain.Conversation, len(snap.Conversations))
	for i, c := range snap.Conversations {
		s.conversations[i] = copyConversation(c)
	}
	s.folders = make([]domain.Folder, len(snap.Folders))
	for i, f := range snap.Folders {
		s.folders[i] = copyFolder(f)
	}
	s.current = ""
	if s.findConversation(snap.CurrentConversationID) != nil {
		s.current = snap.CurrentConversationID
	}
	s.counters = domain.Counters{}
	for i := range s.conversations {
		for _, m := range s.conversations[i].Messages {
			s.counters.Messages++
			s.counters.Tokens += s.counter.Count(m.Content)
		}
	}
	s.mu.Unlock()
}

// --- internal helpers (callers hold s.mu) ---

func (s *Store) findConversation(id string) *domain.Conversation {
	if id == "" {
		return nil
	}
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return &s.conversations[i]
		}
	}
	return nil
}

func findMessage(conv *domain.Conversation, id string) *domain.Message {
	if id == "" {
		return nil
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == id {
			return &conv.Messages[i]
		}
	}
	return nil
}

func (s *Store) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Conversations:         make([]domain.Conversation, len(s.conversations)),
		CurrentConversationID: s.current,
		Folders:               make([]domain.Folder, len(s.folders)),
	}
	for i, c := range s.conversations {
		snap.Conversations[i] = copyConversation(c)
	}
	for i, f := range s.folders {
		snap.Folders[i] = copyFolder(f)
	}
	return snap
}

func copyConversation(c domain.Conversation) domain.Conversation {
	cp := c
	cp.Messages = make([]domain.Message, len(c.Messages))
	for i, m := range c.Messages {
		cp.Messages[i] = copyMessage(m)
	}
	return cp
}

func copyMessage(m domain.Message) domain.Message {
	cp := m
	cp.Ensemble = copyEnsemble(m.Ensemble)
	if m.Alternatives != nil {
		cp.Alternatives = append([]string(nil), m.Alternatives...)
	}
	return cp
}

func copyEnsemble(in []domain.EnsembleResponse) []domain.EnsembleResponse {
	if in == nil {
		return nil
	}
	return append([]domain.EnsembleResponse(nil), in...)
}

func copyFolder(f domain.Folder) domain.Folder {
	cp := f
	cp.Conversations = append([]string(nil), f.Conversations...)
	return cp
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	runes := []rune(title)
	if len(runes) > titleLimit {
		title = string(runes[:titleLimit]) + "…"
	}
	if title == "" {
		return domain.DefaultTitle
	}
	return title
}
