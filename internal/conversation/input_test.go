package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/casefinder/internal/domain"
	"github.com/soyeahso/casefinder/internal/genai"
)

func TestSendGate_PlainEnterAccepted(t *testing.T) {
	var g SendGate
	assert.True(t, g.Accept(KeyEvent{Key: "Enter", Code: 13}))
}

func TestSendGate_NonEnterRejected(t *testing.T) {
	var g SendGate
	assert.False(t, g.Accept(KeyEvent{Key: "a", Code: 65}))
	assert.False(t, g.Accept(KeyEvent{Key: "Shift", Code: 16}))
}

func TestSendGate_ComposingFlagSuppresses(t *testing.T) {
	var g SendGate
	g.StartComposition()
	assert.False(t, g.Accept(KeyEvent{Key: "Enter", Code: 13}))
	g.EndComposition()
	assert.True(t, g.Accept(KeyEvent{Key: "Enter", Code: 13}))
}

func TestSendGate_AmbiguousKeyCodeSuppresses(t *testing.T) {
	// Some platforms never set the composing flag and instead report
	// code 229 for the confirming Enter.
	var g SendGate
	assert.False(t, g.Accept(KeyEvent{Key: "Enter", Code: 229}))
}

func TestSendGate_CompositionSequenceSendsNothing(t *testing.T) {
	gen := &genai.MockGenerator{
		ReplyFunc: func(ctx context.Context, turns []domain.Turn, p domain.Profile, cases []domain.CaseStudy) (string, error) {
			return "回答", nil
		},
	}
	o := newTestOrchestrator(t, gen, &memTranscripts{}, seedTurns())
	o.Start()

	var g SendGate
	submit := func(ev KeyEvent, text string) {
		if g.Accept(ev) {
			o.Send(text)
		}
	}

	// IME composition: keystrokes, then Enter confirming the candidate.
	g.StartComposition()
	submit(KeyEvent{Key: "k", Code: 229}, "か")
	submit(KeyEvent{Key: "a", Code: 229}, "か")
	submit(KeyEvent{Key: "Enter", Code: 229}, "か")
	g.EndComposition()

	time.Sleep(10 * time.Millisecond)
	assert.Len(t, o.Turns(), 1, "composition must not submit")

	// The real Enter afterwards submits exactly once.
	submit(KeyEvent{Key: "Enter", Code: 13}, "か")
	waitState(t, o, StateReady)

	var users int
	for _, turn := range o.Turns() {
		if turn.Role == domain.RoleUser {
			users++
		}
	}
	require.Equal(t, 1, users)
}
