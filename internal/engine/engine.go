// Package engine is the real-time chat synchronization core: it owns the
// session context, routes inbound protocol events into the state store,
// and turns user intents into outbound commands with optimistic local
// state changes.
package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"astrachat/internal/domain"
	"astrachat/internal/store"
)

// Options configures an Engine.
type Options struct {
	Store    *store.Store
	Notifier domain.Notifier
	Logger   *slog.Logger
	// Limiter throttles outbound commands. Nil disables throttling.
	Limiter *rate.Limiter
}

// Engine coordinates the state store, the session context and the
// connection. Event handling is run-to-completion: the connection delivers
// events from a single goroutine and each handler finishes before the next
// event is dispatched. User intents arrive from the UI goroutine; the
// engine's mutex serializes the two.
type Engine struct {
	store   *store.Store
	notify  domain.Notifier
	logger  *slog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	session Session
	sender  domain.CommandSender

	busy     atomic.Bool
	handlers map[domain.EventType]handlerFunc
}

// New creates an engine around the given store.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notify := opts.Notifier
	if notify == nil {
		notify = domain.NotifierFunc(func(domain.NotificationKind, string) {})
	}
	e := &Engine{
		store:   opts.Store,
		notify:  notify,
		logger:  logger,
		limiter: opts.Limiter,
	}
	e.handlers = e.handlerTable()
	return e
}

// SetSender wires the outbound command channel. The connection manager
// calls this on every (re)connect.
func (e *Engine) SetSender(s domain.CommandSender) {
	e.mu.Lock()
	e.sender = s
	e.mu.Unlock()
}

// Busy reports whether a generation cycle is in flight.
func (e *Engine) Busy() bool { return e.busy.Load() }

// Session returns a copy of the current session context. Intended for
// inspection; the engine owns the live value.
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.session
	cp.Ensemble = e.session.Ensemble.Clone()
	if e.session.Regeneration != nil {
		r := *e.session.Regeneration
		r.Alternatives = append([]string(nil), r.Alternatives...)
		cp.Regeneration = &r
	}
	return cp
}

// OnDisconnect aborts any in-flight cycle when the transport drops.
// The generation is abandoned client-side: busy clears, streaming flags
// clear, and the request state resets so a reconnect starts clean.
func (e *Engine) OnDisconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.busy.Swap(false) {
		return
	}
	if convID := e.resolveConversationID(); convID != "" {
		e.store.ClearStreamingFlags(convID)
	}
	e.session.ClearTerminal()
	e.logger.Warn("connection lost with generation in flight; cycle abandoned")
}

// --- store transitions exposed to the UI collaborator ---
// The UI never touches the store directly; every mutation funnels through
// the engine so ownership stays in one place.

func (e *Engine) NewConversation() domain.Conversation       { return e.store.CreateConversation() }
func (e *Engine) SelectConversation(id string) bool          { return e.store.SetCurrent(id) }
func (e *Engine) DeleteConversation(id string) bool          { return e.store.DeleteConversation(id) }
func (e *Engine) DeleteAllConversations()                    { e.store.DeleteAllConversations() }
func (e *Engine) CreateFolder(name string) domain.Folder     { return e.store.CreateFolder(name) }
func (e *Engine) RenameFolder(id, name string) bool          { return e.store.RenameFolder(id, name) }
func (e *Engine) DeleteFolder(id string, del bool) bool      { return e.store.DeleteFolder(id, del) }
func (e *Engine) MoveToFolder(convID, folderID string) bool  { return e.store.MoveToFolder(convID, folderID) }
func (e *Engine) ToggleFolder(id string) bool                { return e.store.ToggleFolder(id) }
func (e *Engine) ArchiveAll()                                { e.store.ArchiveAll() }

// SelectAlternative flips an assistant message to another of its stored
// answers. The displayed content follows the selected index.
func (e *Engine) SelectAlternative(convID, msgID string, index int) bool {
	msg, ok := e.store.Message(convID, msgID)
	if !ok || len(msg.Alternatives) == 0 {
		return false
	}
	if index < 0 || index >= len(msg.Alternatives) {
		return false
	}
	content := msg.Alternatives[index]
	return e.store.ReplaceMessageContent(convID, msgID, store.MessageUpdate{
		Content: &content,
		Alternatives: &store.AlternativesUpdate{
			List:  msg.Alternatives,
			Index: index,
		},
	})
}

// --- read accessors ---

func (e *Engine) Current() *domain.Conversation      { return e.store.Current() }
func (e *Engine) Conversations() []domain.Conversation { return e.store.Conversations() }
func (e *Engine) Folders() []domain.Folder           { return e.store.Folders() }
func (e *Engine) Counters() domain.Counters          { return e.store.Counters() }

// resolveConversationID picks the conversation inbound events target:
// the session's active conversation, falling back to the selected one.
// Callers hold e.mu.
func (e *Engine) resolveConversationID() string {
	if e.session.ActiveConversationID != "" {
		return e.session.ActiveConversationID
	}
	return e.store.CurrentID()
}
