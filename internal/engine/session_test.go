package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBeginSendResetsRequestState(t *testing.T) {
	s := Session{
		ActiveConversationID: "old",
		ActiveMessageID:      "m1",
		Chunked:              true,
		Regeneration:         &Regeneration{Alternatives: []string{"x"}},
	}
	s.Ensemble.Expected = 3
	s.Ensemble.Upsert("alpha")

	s.BeginSend("new")

	assert.Equal(t, "new", s.ActiveConversationID)
	assert.Empty(t, s.ActiveMessageID)
	assert.False(t, s.Chunked)
	assert.Nil(t, s.Regeneration)
	assert.Zero(t, s.Ensemble.Expected)
	assert.Zero(t, s.Ensemble.Len())
}

func TestClearTerminalKeepsConversationID(t *testing.T) {
	s := Session{ActiveConversationID: "c1", ActiveMessageID: "m1", Chunked: true}

	s.ClearTerminal()

	assert.Equal(t, "c1", s.ActiveConversationID)
	assert.Empty(t, s.ActiveMessageID)
	assert.False(t, s.Chunked)
}

func TestBeginRegenerateCopiesAndClampsIndex(t *testing.T) {
	alts := []string{"A", "B"}
	var s Session

	s.BeginRegenerate("c1", "m1", alts, 99)

	assert.Equal(t, 2, s.Regeneration.CurrentIndex) // clamped to append position
	s.Regeneration.Alternatives = append(s.Regeneration.Alternatives, "C")
	assert.Len(t, alts, 2) // caller's slice untouched

	s.BeginRegenerate("c1", "m1", alts, -5)
	assert.Equal(t, 0, s.Regeneration.CurrentIndex)
}

func TestBeginRegenerateClearsTargetSlot(t *testing.T) {
	var s Session
	s.BeginRegenerate("c1", "m1", []string{"A", "B"}, 0)

	assert.Equal(t, []string{"", "B"}, s.Regeneration.Alternatives)
}

func TestEnsembleTrackerOrderAndUpsert(t *testing.T) {
	var tr EnsembleTracker

	a := tr.Upsert("alpha")
	a.Content = "a1"
	tr.Upsert("beta").Content = "b1"
	// Second upsert returns the same entry.
	tr.Upsert("alpha").Content += "a2"

	rs := tr.Responses()
	assert.Len(t, rs, 2)
	assert.Equal(t, "alpha", rs[0].Model)
	assert.Equal(t, "a1a2", rs[0].Content)
	assert.Equal(t, "beta", rs[1].Model)
	assert.Equal(t, 2, tr.Len())
}

func TestEnsembleTrackerResponsesAreCopies(t *testing.T) {
	var tr EnsembleTracker
	tr.Upsert("alpha").Content = "original"

	rs := tr.Responses()
	rs[0].Content = "mutated"

	assert.Equal(t, "original", tr.Upsert("alpha").Content)
}

func TestEnsembleTrackerReset(t *testing.T) {
	var tr EnsembleTracker
	tr.Expected = 2
	tr.Upsert("alpha")

	tr.Reset()

	assert.Zero(t, tr.Expected)
	assert.Zero(t, tr.Len())
	assert.Empty(t, tr.Responses())
}
