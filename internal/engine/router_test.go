package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrachat/internal/domain"
)

func TestChunksFoldIntoSingleAssistantMessage(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("question", "", true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "Hel"}))
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "lo "}))
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "world"}))

	conv := st.Current()
	require.Len(t, conv.Messages, 2) // user + streaming assistant
	asst := conv.Messages[1]
	assert.Equal(t, domain.RoleAssistant, asst.Role)
	assert.Equal(t, "Hello world", asst.Content)
	assert.True(t, asst.Streaming)
}

func TestChunkSeamRepairAcrossEvents(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("code please", "", true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "```python"}))
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "print(1)"}))

	asst := st.Current().Messages[1]
	assert.Equal(t, "```python\nprint(1)", asst.Content)
}

func TestCompleteClearsBusyBeforeContentLands(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("q", "", true))
	require.True(t, e.Busy())

	e.HandleEvent(context.Background(), event(t, domain.EventComplete,
		map[string]any{"response": "answer"}))

	assert.False(t, e.Busy())
	conv := st.Current()
	asst := conv.Messages[1]
	assert.Equal(t, "answer", asst.Content)
	assert.False(t, asst.Streaming)
	assert.Empty(t, e.Session().ActiveMessageID)
}

func TestCompletePrefersAccumulatedContentWhenChunked(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("q", "", true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "accum"}))
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "ulated"}))
	// The backend repeats the full text on completion; the locally
	// accumulated content already carries seam fixups and wins.
	e.HandleEvent(ctx, event(t, domain.EventComplete, map[string]any{"response": "accumulated"}))

	asst := st.Current().Messages[1]
	assert.Equal(t, "accumulated", asst.Content)
	assert.False(t, asst.Streaming)
}

func TestCompleteWithMalformedPayloadStillTerminates(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("q", "", true))

	e.HandleEvent(context.Background(),
		domain.Event{Type: domain.EventComplete, Raw: []byte(`{"response": 12`)})

	assert.False(t, e.Busy())
	for _, msg := range st.Current().Messages {
		assert.False(t, msg.Streaming)
	}
}

func TestCompleteWithNoConversationIsDropped(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	// No conversation exists and none is active.
	e.HandleEvent(context.Background(), event(t, domain.EventComplete,
		map[string]any{"response": "orphan"}))
	assert.False(t, e.Busy())
}

func TestErrorEventNotifiesAndCleansUp(t *testing.T) {
	e, st, _, notifier := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("q", "", true))
	e.HandleEvent(context.Background(), event(t, domain.EventChunk, map[string]any{"chunk": "par"}))

	e.HandleEvent(context.Background(), event(t, domain.EventError,
		map[string]any{"error": "model exploded"}))

	assert.False(t, e.Busy())
	assert.Equal(t, 1, notifier.count(domain.NotifyError))
	asst := st.Current().Messages[1]
	assert.Equal(t, "par", asst.Content) // partial content survives
	assert.False(t, asst.Streaming)
}

func TestLateEventsAfterTerminationAreHarmless(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("q", "", true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "done"}))
	e.HandleEvent(ctx, event(t, domain.EventComplete, map[string]any{}))

	before := st.Current()
	// Duplicate terminal and a straggler chunk arrive after the cycle ended.
	e.HandleEvent(ctx, event(t, domain.EventComplete, map[string]any{"response": "dup"}))
	e.HandleEvent(ctx, event(t, domain.EventStopped, map[string]any{}))

	after := st.Current()
	assert.Equal(t, len(before.Messages), len(after.Messages))
	assert.Equal(t, before.Messages[1].Content, after.Messages[1].Content)
	assert.False(t, e.Busy())
}

func TestDuplicateCompleteAfterUnchunkedCycleAppendsNothing(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("q", "", true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventComplete, map[string]any{"response": "answer"}))
	require.Len(t, st.Current().Messages, 2)

	// The backend retransmits the terminal; no request is outstanding.
	e.HandleEvent(ctx, event(t, domain.EventComplete, map[string]any{"response": "answer"}))

	conv := st.Current()
	assert.Len(t, conv.Messages, 2)
	assert.Equal(t, "answer", conv.Messages[1].Content)
}

func TestStoppedEventAloneNotifiesOnce(t *testing.T) {
	e, st, _, notifier := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("q", "", true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventStopped, map[string]any{}))
	e.HandleEvent(ctx, event(t, domain.EventStopped, map[string]any{}))

	assert.False(t, e.Busy())
	assert.Equal(t, 1, notifier.count(domain.NotifyInfo))
}

func TestThinkingEventIsKeepAliveOnly(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("q", "", true))

	e.HandleEvent(context.Background(), event(t, domain.EventThinking, map[string]any{}))

	assert.True(t, e.Busy())
	assert.Len(t, st.Current().Messages, 1) // only the user message
}

// --- regeneration ---

func TestRegenerationAccumulatesIntoAlternative(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	conv := st.CreateConversation()
	st.AppendMessage(conv.ID, domain.Message{Role: domain.RoleUser, Content: "q"})
	asst, _ := st.AppendMessage(conv.ID, domain.Message{Role: domain.RoleAssistant, Content: "A"})

	// Regenerate appends a new candidate after the original answer "A".
	require.NoError(t, e.Regenerate("q", asst.ID, conv.ID, []string{"A"}, 1, true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "B"}))
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "C"}))

	// Mid-stream the candidate mirrors into the displayed content.
	mid, _ := st.Message(conv.ID, asst.ID)
	assert.Equal(t, "BC", mid.Content)
	assert.True(t, mid.Streaming)

	e.HandleEvent(ctx, event(t, domain.EventComplete, map[string]any{"response": "BC"}))

	final, _ := st.Message(conv.ID, asst.ID)
	assert.Equal(t, "BC", final.Content)
	assert.Equal(t, []string{"A", "BC"}, final.Alternatives)
	assert.Equal(t, 1, final.CurrentIndex)
	assert.False(t, final.Streaming)
	assert.False(t, e.Busy())
}

func TestRegenerationWithoutChunksUsesFinalResponse(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	conv := st.CreateConversation()
	asst, _ := st.AppendMessage(conv.ID, domain.Message{Role: domain.RoleAssistant, Content: "old"})

	require.NoError(t, e.Regenerate("q", asst.ID, conv.ID, []string{"old"}, 1, false))
	e.HandleEvent(context.Background(), event(t, domain.EventComplete,
		map[string]any{"response": "fresh"}))

	final, _ := st.Message(conv.ID, asst.ID)
	assert.Equal(t, "fresh", final.Content)
	assert.Equal(t, []string{"old", "fresh"}, final.Alternatives)
	assert.Equal(t, 1, final.CurrentIndex)
}

func TestRegenerationOverwritesExistingIndex(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	conv := st.CreateConversation()
	asst, _ := st.AppendMessage(conv.ID, domain.Message{Role: domain.RoleAssistant, Content: "B"})

	// Re-run candidate 0 of two existing answers.
	require.NoError(t, e.Regenerate("q", asst.ID, conv.ID, []string{"A", "B"}, 0, true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventChunk, map[string]any{"chunk": "A2"}))
	e.HandleEvent(ctx, event(t, domain.EventComplete, map[string]any{}))

	final, _ := st.Message(conv.ID, asst.ID)
	assert.Equal(t, []string{"A2", "B"}, final.Alternatives)
	assert.Equal(t, "A2", final.Content)
	assert.Equal(t, 0, final.CurrentIndex)
}

// --- ensemble ---

func TestEnsembleCycleTracksModelsInFirstSeenOrder(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("compare", "", true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMStart, map[string]any{"total_models": 2}))
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMChunk,
		map[string]any{"model": "alpha", "chunk": "a1"}))
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMChunk,
		map[string]any{"model": "beta", "chunk": "b1"}))
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMChunk,
		map[string]any{"model": "alpha", "chunk": "a2"}))

	conv := st.Current()
	require.Len(t, conv.Messages, 2)
	ens := conv.Messages[1].Ensemble
	require.Len(t, ens, 2)
	assert.Equal(t, "alpha", ens[0].Model)
	assert.Equal(t, "a1a2", ens[0].Content)
	assert.True(t, ens[0].Streaming)
	assert.Equal(t, "beta", ens[1].Model)
	assert.Equal(t, "b1", ens[1].Content)
}

func TestEnsembleFinalizesWhenAllModelsComplete(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("compare", "", true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMStart, map[string]any{"total_models": 2}))
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMComplete,
		map[string]any{"model": "alpha", "response": "A"}))

	// One of two models done: cycle stays live.
	assert.True(t, e.Busy())

	e.HandleEvent(ctx, event(t, domain.EventMultiLLMComplete,
		map[string]any{"model": "beta", "response": "", "error": "timeout"}))

	assert.False(t, e.Busy())
	ens := st.Current().Messages[1].Ensemble
	require.Len(t, ens, 2)
	assert.Equal(t, "A", ens[0].Content)
	assert.False(t, ens[0].Failed)
	assert.True(t, ens[1].Failed)
	assert.Empty(t, e.Session().ActiveMessageID)
}

func TestEnsembleDuplicateCompleteDoesNotDoubleCount(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("compare", "", true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMStart, map[string]any{"total_models": 2}))
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMComplete,
		map[string]any{"model": "alpha", "response": "A"}))
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMComplete,
		map[string]any{"model": "alpha", "response": "A"}))

	// Same model twice is one distinct completion.
	assert.True(t, e.Busy())
}

func TestEnsembleAccumulatedFieldWinsOverMerging(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("compare", "", true))

	ctx := context.Background()
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMStart, map[string]any{"total_models": 1}))
	e.HandleEvent(ctx, event(t, domain.EventMultiLLMChunk,
		map[string]any{"model": "alpha", "chunk": "x", "accumulated": "full text"}))

	ens := st.Current().Messages[1].Ensemble
	assert.Equal(t, "full text", ens[0].Content)
}

func TestEnsembleChunkBeforeStartCreatesCarrier(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	st.CreateConversation()
	require.NoError(t, e.Send("compare", "", true))

	// Start event lost; the first chunk still materializes the message.
	e.HandleEvent(context.Background(), event(t, domain.EventMultiLLMChunk,
		map[string]any{"model": "alpha", "chunk": "a1"}))

	conv := st.Current()
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "a1", conv.Messages[1].Ensemble[0].Content)
}
