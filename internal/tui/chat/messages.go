package chat

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"astrachat/internal/domain"
)

// StateMsg carries a fresh store snapshot plus the live counters. The
// engine pushes one after every state transition; the model re-renders
// from it and never reads the store mid-update.
type StateMsg struct {
	Snapshot domain.Snapshot
	Counters domain.Counters
	Busy     bool
}

// NoticeMsg surfaces a notification in the status line.
type NoticeMsg struct {
	Kind domain.NotificationKind
	Text string
}

// sendResultMsg reports the outcome of an asynchronous Send/Regenerate.
type sendResultMsg struct {
	err error
}

// Bridge adapts engine callbacks onto a running Bubble Tea program.
// Safe to use before Attach; messages are dropped until a program exists.
// The pointer is atomic because Attach runs on the main goroutine while
// the connection manager may already be emitting notifications.
type Bridge struct {
	program atomic.Pointer[tea.Program]
}

// Attach wires the running program. Called once from main after
// tea.NewProgram.
func (b *Bridge) Attach(p *tea.Program) { b.program.Store(p) }

// Notify implements domain.Notifier.
func (b *Bridge) Notify(kind domain.NotificationKind, msg string) {
	if p := b.program.Load(); p != nil {
		p.Send(NoticeMsg{Kind: kind, Text: msg})
	}
}

// OnState is registered as the store's change hook.
func (b *Bridge) OnState(snap domain.Snapshot, counters domain.Counters, busy bool) {
	if p := b.program.Load(); p != nil {
		p.Send(StateMsg{Snapshot: snap, Counters: counters, Busy: busy})
	}
}

var _ domain.Notifier = (*Bridge)(nil)
