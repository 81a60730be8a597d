package engine

import (
	"time"

	"astrachat/internal/domain"
	"astrachat/internal/store"
)

// Send appends the user's message, marks the cycle busy and emits a
// generate command — all before any server acknowledgment. If the command
// cannot even be handed to the transport, the optimistic busy state rolls
// back and the failure is surfaced as a notification.
func (e *Engine) Send(text, conversationID string, streaming bool) error {
	if err := e.allow(); err != nil {
		return err
	}

	e.mu.Lock()
	if conversationID == "" {
		conversationID = e.store.CurrentID()
	}
	if _, ok := e.store.Conversation(conversationID); !ok {
		conversationID = e.store.CreateConversation().ID
	}

	e.session.BeginSend(conversationID)
	e.busy.Store(true)
	msg, _ := e.store.AppendMessage(conversationID, domain.Message{
		Role:    domain.RoleUser,
		Content: text,
	})

	err := e.sendLocked(domain.Command{
		Type:           domain.CommandGenerate,
		Message:        text,
		Streaming:      streaming,
		Timestamp:      time.Now(),
		MessageID:      msg.ID,
		ConversationID: conversationID,
	})
	e.mu.Unlock()

	if err != nil {
		e.busy.Store(false)
		e.notify.Notify(domain.NotifyError, "Failed to send message: "+err.Error())
		return domain.WrapOp("engine.send", err)
	}
	return nil
}

// Regenerate re-runs generation for an existing assistant message,
// producing a new candidate at currentIndex of the alternatives list.
// The original user message is not re-appended.
func (e *Engine) Regenerate(userText, assistantMessageID, conversationID string, alternatives []string, currentIndex int, streaming bool) error {
	if err := e.allow(); err != nil {
		return err
	}

	e.mu.Lock()
	if conversationID == "" {
		conversationID = e.store.CurrentID()
	}
	e.session.BeginRegenerate(conversationID, assistantMessageID, alternatives, currentIndex)
	e.busy.Store(true)

	err := e.sendLocked(domain.Command{
		Type:               domain.CommandGenerate,
		Message:            userText,
		Streaming:          streaming,
		Timestamp:          time.Now(),
		Regenerate:         true,
		AssistantMessageID: assistantMessageID,
	})
	e.mu.Unlock()

	if err != nil {
		e.busy.Store(false)
		e.notify.Notify(domain.NotifyError, "Failed to regenerate: "+err.Error())
		return domain.WrapOp("engine.regenerate", err)
	}
	return nil
}

// Stop fires a stop command and optimistically ends the cycle locally:
// busy clears and the active message stops streaming without waiting for
// acknowledgment. A later stopped event is advisory cleanup only. Repeated
// calls are harmless and notify at most once.
func (e *Engine) Stop() {
	wasBusy := e.busy.Swap(false)

	e.mu.Lock()
	if convID := e.resolveConversationID(); convID != "" && e.session.ActiveMessageID != "" {
		e.store.ReplaceMessageContent(convID, e.session.ActiveMessageID, store.MessageUpdate{
			Streaming: boolPtr(false),
		})
	}
	err := e.sendLocked(domain.Command{
		Type:      domain.CommandStop,
		Timestamp: time.Now(),
	})
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("stop command not delivered", "error", err)
	}
	if wasBusy {
		e.notify.Notify(domain.NotifyInfo, "Generation stopped")
	}
}

// allow enforces the outbound command budget before any local mutation.
func (e *Engine) allow() error {
	if e.limiter != nil && !e.limiter.Allow() {
		return domain.WrapOp("engine.allow", domain.ErrRateLimited)
	}
	return nil
}

// sendLocked hands a command to the transport. Callers hold e.mu.
func (e *Engine) sendLocked(cmd domain.Command) error {
	if e.sender == nil {
		return domain.ErrNotConnected
	}
	return e.sender.Send(cmd)
}
