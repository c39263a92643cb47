// Package conversation holds the per-conversation state machine: it
// accepts user input, drives reply generation, hands resolved replies
// to the playback scheduler, and keeps the durable transcript in sync.
package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/casefinder/internal/domain"
	"github.com/soyeahso/casefinder/internal/genai"
	"github.com/soyeahso/casefinder/internal/logging"
	"github.com/soyeahso/casefinder/internal/playback"
)

// State is the orchestrator's current phase.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingIntro  State = "awaiting_intro"
	StateReady          State = "ready"
	StateSending        State = "sending"
	StateStreamingReply State = "streaming_reply"
	StateError          State = "error"
)

// Transcripts is the durable turn log the orchestrator writes through.
// Implemented by store.TranscriptStore.
type Transcripts interface {
	Append(conversationID string, turn domain.Turn) error
	ReplacePendingTail(conversationID string, turn domain.Turn) error
}

// Hooks receive live updates as the conversation advances. All hooks
// are optional and are invoked from the orchestrator's own goroutines;
// implementations must not call back into the orchestrator.
type Hooks struct {
	// State fires on every state transition.
	State func(State)
	// Turns fires whenever the live transcript view changes.
	Turns func([]domain.Turn)
	// Reveal fires with each growing prefix during reply playback.
	Reveal func(string)
	// Intro fires once with the resolved introduction text, before its
	// playback begins. Used to cache the intro on the record.
	Intro func(string)
}

// Orchestrator runs one conversation. All exported methods are safe
// for concurrent use; internally a single mutex serializes every
// transition, so a given transcript is never mutated in parallel.
type Orchestrator struct {
	conversationID string
	profile        domain.Profile
	gen            genai.Generator
	transcripts    Transcripts
	player         *playback.Scheduler
	hooks          Hooks
	log            *logging.Logger

	mu         sync.Mutex
	state      State
	turns      []domain.Turn
	cases      []domain.CaseStudy
	seq        uint64
	failedText string
	cancel     context.CancelFunc
	ctx        context.Context
}

// New creates an orchestrator over an existing conversation record.
// Previously persisted turns and cases seed the live view.
func New(
	conversationID string,
	profile domain.Profile,
	turns []domain.Turn,
	cases []domain.CaseStudy,
	gen genai.Generator,
	transcripts Transcripts,
	player *playback.Scheduler,
	hooks Hooks,
	log *logging.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		conversationID: conversationID,
		profile:        profile,
		gen:            gen,
		transcripts:    transcripts,
		player:         player,
		hooks:          hooks,
		log:            log.Sub("conversation"),
		state:          StateIdle,
		turns:          append([]domain.Turn(nil), turns...),
		cases:          append([]domain.CaseStudy(nil), cases...),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Turns returns a copy of the live transcript view.
func (o *Orchestrator) Turns() []domain.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Turn(nil), o.turns...)
}

// FailedInput returns the user text retained after a failed send, or
// the empty string outside the error state.
func (o *Orchestrator) FailedInput() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failedText
}

// SetCases replaces the reference case list used as reply context.
func (o *Orchestrator) SetCases(cases []domain.CaseStudy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cases = append([]domain.CaseStudy(nil), cases...)
}

// Start resolves the introduction if the transcript is still empty.
// The intro call never fails; a generator problem yields the template
// fallback, so this path cannot end in the error state.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return
	}
	if len(o.turns) > 0 {
		// Revisit of an existing conversation: intro already resolved.
		o.setStateLocked(StateReady)
		o.mu.Unlock()
		return
	}
	o.setStateLocked(StateAwaitingIntro)
	o.seq++
	seq := o.seq
	ctx := o.ctx
	o.mu.Unlock()

	go func() {
		intro := o.gen.GenerateIntroduction(ctx, o.profile)

		o.mu.Lock()
		if seq != o.seq {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		if o.hooks.Intro != nil {
			o.hooks.Intro(intro)
		}

		o.player.Play(intro, o.reveal(seq), func() {
			o.finalizeAssistant(seq, intro)
		})
	}()
}

// Send submits one user message. Empty or whitespace-only input is
// ignored, as is any call while a previous send is still in flight.
func (o *Orchestrator) Send(text string) {
	o.send(text, false)
}

// Retry re-submits the input retained by a failed send. The optimistic
// user turn from the failed attempt is removed first so exactly one
// user turn survives.
func (o *Orchestrator) Retry() {
	o.mu.Lock()
	if o.state != StateError || o.failedText == "" {
		o.mu.Unlock()
		return
	}
	text := o.failedText
	if n := len(o.turns); n > 0 && o.turns[n-1].Role == domain.RoleUser {
		o.turns = o.turns[:n-1]
		o.notifyTurnsLocked()
	}
	o.state = StateReady
	o.mu.Unlock()

	o.send(text, true)
}

func (o *Orchestrator) send(text string, retrying bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	o.mu.Lock()
	if o.state == StateSending || o.state == StateStreamingReply || o.state == StateAwaitingIntro {
		o.mu.Unlock()
		return
	}
	o.failedText = ""

	userTurn := domain.NewTurn(domain.RoleUser, trimmed, time.Now())
	o.turns = append(o.turns, userTurn)
	// Snapshot after the optimistic append so the new message is part
	// of the generation context.
	snapshot := append([]domain.Turn(nil), o.turns...)
	cases := o.cases
	o.setStateLocked(StateSending)
	o.notifyTurnsLocked()
	o.seq++
	seq := o.seq
	ctx := o.ctx
	o.mu.Unlock()

	o.persistUser(userTurn, retrying)

	go func() {
		reply, err := o.gen.GenerateReply(ctx, snapshot, o.profile, cases)

		o.mu.Lock()
		if seq != o.seq {
			o.mu.Unlock()
			return
		}
		if err != nil {
			o.log.Warn().Err(err).Str("conversation", o.conversationID).Msg("reply generation failed")
			o.failedText = trimmed
			o.setStateLocked(StateError)
			o.mu.Unlock()
			return
		}
		o.setStateLocked(StateStreamingReply)
		o.mu.Unlock()

		o.player.Play(reply, o.reveal(seq), func() {
			o.finalizeAssistant(seq, reply)
		})
	}()
}

// Close tears the conversation down: the in-flight generation (if any)
// is cancelled, playback stops, and late resolutions are discarded.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.seq++
	o.mu.Unlock()
	o.cancel()
	o.player.Stop()
}

// reveal returns a playback prefix callback guarded by seq, so a
// superseded playback stops updating the view.
func (o *Orchestrator) reveal(seq uint64) func(string) {
	return func(prefix string) {
		o.mu.Lock()
		stale := seq != o.seq
		hook := o.hooks.Reveal
		o.mu.Unlock()
		if stale || hook == nil {
			return
		}
		hook(prefix)
	}
}

// finalizeAssistant appends the resolved assistant turn once playback
// completes. This is the only place an assistant turn is persisted, so
// a crash mid-reply never stores a partial answer.
func (o *Orchestrator) finalizeAssistant(seq uint64, text string) {
	turn := domain.NewTurn(domain.RoleAssistant, text, time.Now())

	o.mu.Lock()
	if seq != o.seq {
		o.mu.Unlock()
		return
	}
	o.turns = append(o.turns, turn)
	o.setStateLocked(StateReady)
	o.notifyTurnsLocked()
	o.mu.Unlock()

	if err := o.transcripts.Append(o.conversationID, turn); err != nil {
		o.log.Error().Err(err).Str("conversation", o.conversationID).Msg("assistant turn persistence failed")
	}
}

// persistUser writes the optimistic user turn through to the store.
// Failures are logged and do not block the conversation.
func (o *Orchestrator) persistUser(turn domain.Turn, retrying bool) {
	var err error
	if retrying {
		err = o.transcripts.ReplacePendingTail(o.conversationID, turn)
	} else {
		err = o.transcripts.Append(o.conversationID, turn)
	}
	if err != nil {
		o.log.Error().Err(err).Str("conversation", o.conversationID).Msg("user turn persistence failed")
	}
}

// setStateLocked transitions and notifies while holding the mutex, so
// hook invocations arrive in transition order.
func (o *Orchestrator) setStateLocked(s State) {
	o.state = s
	if o.hooks.State != nil {
		o.hooks.State(s)
	}
}

func (o *Orchestrator) notifyTurnsLocked() {
	if o.hooks.Turns == nil {
		return
	}
	o.hooks.Turns(append([]domain.Turn(nil), o.turns...))
}
