package engine

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"astrachat/internal/assemble"
	"astrachat/internal/domain"
	"astrachat/internal/infra/tracer"
	"astrachat/internal/store"
)

type handlerFunc func(ctx context.Context, ev domain.Event)

// handlerTable registers a handler for every inbound event type. The set
// is closed; the table is built once so a missing registration is a
// programming error caught by TestHandlerTableCoversAllEventTypes.
func (e *Engine) handlerTable() map[domain.EventType]handlerFunc {
	return map[domain.EventType]handlerFunc{
		domain.EventThinking:         e.handleThinking,
		domain.EventChunk:            e.handleChunk,
		domain.EventComplete:         e.handleComplete,
		domain.EventError:            e.handleError,
		domain.EventStopped:          e.handleStopped,
		domain.EventMultiLLMStart:    e.handleMultiStart,
		domain.EventMultiLLMChunk:    e.handleMultiChunk,
		domain.EventMultiLLMComplete: e.handleMultiComplete,
	}
}

// HandleEvent dispatches one inbound event. Never panics and never blocks
// on anything but the engine mutex; failures become notifications or
// warnings, not control flow.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.Event) {
	ctx, span := tracer.StartSpan(ctx, "engine.handle_event",
		trace.WithAttributes(attribute.String("event.type", string(ev.Type))))
	defer span.End()

	h, ok := e.handlers[ev.Type]
	if !ok {
		e.logger.Warn("unknown event type", "type", string(ev.Type))
		return
	}
	h(ctx, ev)
}

func (e *Engine) handleThinking(context.Context, domain.Event) {
	// Keep-alive only; nothing to mutate.
}

func (e *Engine) handleChunk(_ context.Context, ev domain.Event) {
	var p domain.ChunkPayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		e.logger.Warn("chunk event with malformed payload", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	convID := e.resolveConversationID()
	if convID == "" {
		return
	}

	if regen := e.session.Regeneration; regen != nil {
		// Fragments accumulate into the regeneration candidate rather than
		// the message's own content; the candidate is mirrored as the
		// displayed content so the UI streams it live.
		idx := regen.CurrentIndex
		if idx == len(regen.Alternatives) {
			regen.Alternatives = append(regen.Alternatives, "")
		}
		regen.Alternatives[idx] = assemble.Merge(regen.Alternatives[idx], p.Chunk)
		e.session.Chunked = true
		e.store.ReplaceMessageContent(convID, e.session.ActiveMessageID, store.MessageUpdate{
			Content:   &regen.Alternatives[idx],
			Streaming: boolPtr(true),
		})
		return
	}

	if e.session.ActiveMessageID == "" {
		msg, ok := e.store.AppendMessage(convID, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   p.Chunk,
			Streaming: true,
		})
		if !ok {
			return
		}
		e.session.ActiveMessageID = msg.ID
		e.session.Chunked = true
		return
	}
	e.session.Chunked = true
	e.store.AppendChunk(convID, e.session.ActiveMessageID, p.Chunk, boolPtr(true))
}

func (e *Engine) handleComplete(_ context.Context, ev domain.Event) {
	// Busy clears before any other logic so the UI never shows an
	// in-flight state past this event, whatever happens below. The prior
	// value distinguishes a live cycle from a duplicate terminal.
	wasBusy := e.busy.Swap(false)

	var p domain.CompletePayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		e.logger.Warn("complete event with malformed payload", "error", err)
		p = domain.CompletePayload{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	convID := e.resolveConversationID()
	if convID == "" {
		// Nothing to attribute the completion to; drop it.
		e.logger.Warn("complete event with no resolvable conversation")
		return
	}

	if msgID := e.session.ActiveMessageID; msgID != "" {
		if regen := e.session.Regeneration; regen != nil {
			idx := regen.CurrentIndex
			if idx == len(regen.Alternatives) {
				regen.Alternatives = append(regen.Alternatives, "")
			}
			if p.Response != "" && !e.session.Chunked {
				regen.Alternatives[idx] = p.Response
			}
			e.store.ReplaceMessageContent(convID, msgID, store.MessageUpdate{
				Content:   &regen.Alternatives[idx],
				Streaming: boolPtr(false),
				Alternatives: &store.AlternativesUpdate{
					List:  regen.Alternatives,
					Index: idx,
				},
			})
		} else {
			upd := store.MessageUpdate{Streaming: boolPtr(false)}
			if p.Response != "" && !e.session.Chunked {
				// A final response is authoritative only when the message was
				// not streamed; streamed content already contains seam fixups.
				upd.Content = &p.Response
			}
			e.store.ReplaceMessageContent(convID, msgID, upd)
		}
	} else if wasBusy && p.Response != "" {
		// Non-streamed cycle: the whole answer arrives in this one event.
		// Without an outstanding request the response is a stray duplicate.
		e.store.AppendMessage(convID, domain.Message{
			Role:    domain.RoleAssistant,
			Content: p.Response,
		})
	}

	// Exactly one message may legitimately be pending; sweep the rest.
	e.store.ClearStreamingFlags(convID)
	e.session.ClearTerminal()
}

func (e *Engine) handleError(_ context.Context, ev domain.Event) {
	var p domain.ErrorPayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		p.Error = "generation failed"
	}
	e.terminate(true, p.Error)
}

func (e *Engine) handleStopped(context.Context, domain.Event) {
	// Advisory when the stop was issued locally: the emitter already
	// cleared busy, so terminate notifies only if the cycle was still live.
	e.terminate(false, "")
}

// terminate performs the shared error/stopped cleanup. A failure message is
// surfaced as an error notification; a live cycle ending without one gets
// an informational notice.
func (e *Engine) terminate(failed bool, errMsg string) {
	wasBusy := e.busy.Swap(false)

	e.mu.Lock()
	if convID := e.resolveConversationID(); convID != "" && e.session.ActiveMessageID != "" {
		e.store.ReplaceMessageContent(convID, e.session.ActiveMessageID, store.MessageUpdate{
			Streaming: boolPtr(false),
		})
	}
	e.session.ClearTerminal()
	e.mu.Unlock()

	if failed {
		e.notify.Notify(domain.NotifyError, errMsg)
	} else if wasBusy {
		e.notify.Notify(domain.NotifyInfo, "Generation stopped")
	}
}

func (e *Engine) handleMultiStart(_ context.Context, ev domain.Event) {
	var p domain.MultiLLMStartPayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		e.logger.Warn("multi_llm_start with malformed payload", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.session.Ensemble.Expected = p.TotalModels
	e.ensureEnsembleMessageLocked()
}

func (e *Engine) handleMultiChunk(_ context.Context, ev domain.Event) {
	var p domain.MultiLLMChunkPayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		e.logger.Warn("multi_llm_chunk with malformed payload", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ensureEnsembleMessageLocked() {
		return
	}
	entry := e.session.Ensemble.Upsert(p.Model)
	if p.Accumulated != "" {
		entry.Content = p.Accumulated
	} else {
		entry.Content = assemble.Merge(entry.Content, p.Chunk)
	}
	entry.Streaming = true
	e.writeEnsembleLocked()
}

func (e *Engine) handleMultiComplete(_ context.Context, ev domain.Event) {
	var p domain.MultiLLMCompletePayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		e.logger.Warn("multi_llm_complete with malformed payload", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ensureEnsembleMessageLocked() {
		return
	}
	entry := e.session.Ensemble.Upsert(p.Model)
	entry.Content = p.Response
	entry.Streaming = false
	entry.Failed = p.Error != ""
	e.writeEnsembleLocked()

	tracker := &e.session.Ensemble
	if tracker.Expected > 0 && tracker.Len() >= tracker.Expected {
		e.busy.Store(false)
		// Re-write once more so the final set can never lose a race with
		// the upsert above; the cycle then resets fully.
		e.writeEnsembleLocked()
		e.session.ActiveMessageID = ""
		tracker.Reset()
	}
}

// ensureEnsembleMessageLocked creates the ensemble carrier message if this
// cycle does not have one yet. Callers hold e.mu.
func (e *Engine) ensureEnsembleMessageLocked() bool {
	if e.session.ActiveMessageID != "" {
		return true
	}
	convID := e.resolveConversationID()
	if convID == "" {
		return false
	}
	msg, ok := e.store.AppendMessage(convID, domain.Message{
		Role:     domain.RoleAssistant,
		Ensemble: []domain.EnsembleResponse{},
	})
	if !ok {
		return false
	}
	e.session.ActiveMessageID = msg.ID
	return true
}

// writeEnsembleLocked mirrors the tracker into the message's ensemble set.
// Callers hold e.mu.
func (e *Engine) writeEnsembleLocked() {
	convID := e.resolveConversationID()
	if convID == "" || e.session.ActiveMessageID == "" {
		return
	}
	e.store.ReplaceMessageContent(convID, e.session.ActiveMessageID, store.MessageUpdate{
		Ensemble: e.session.Ensemble.Responses(),
	})
}

func boolPtr(b bool) *bool { return &b }
