// Package genai talks to the hosted generation API: one-shot chat-style
// calls for the intro comment and conversational replies, plus a
// streamed workflow call that produces case studies. All generator
// failures are normalized at this boundary; callers never see raw
// transport errors from the one-shot paths.
package genai

import (
	"context"

	"github.com/soyeahso/casefinder/internal/domain"
)

// EventType tags a decoded stream event.
type EventType string

const (
	// EventDelta carries an incremental text fragment.
	EventDelta EventType = "delta"
	// EventResult is the terminal event carrying the parsed case list.
	EventResult EventType = "result"
	// EventError is a terminal decode or generator error.
	EventError EventType = "error"
)

// Event is one decoded unit from a generation stream.
type Event struct {
	Type  EventType
	Text  string             // delta text (Type == EventDelta)
	Cases []domain.CaseStudy // parsed payload (Type == EventResult)
	Err   string             // error message (Type == EventError)
}

// Generator is the interface the orchestrator depends on.
type Generator interface {
	// GenerateIntroduction produces the assistant's opening comment.
	// It never fails: any generator problem yields the deterministic
	// template built from the profile labels.
	GenerateIntroduction(ctx context.Context, profile domain.Profile) string

	// GenerateReply produces the next assistant reply for the given
	// transcript snapshot. Generator-API failures are absorbed into a
	// deterministic apology (returned with a nil error); only transport
	// failures reaching the caller are returned as errors.
	GenerateReply(ctx context.Context, turns []domain.Turn, profile domain.Profile, cases []domain.CaseStudy) (string, error)

	// GenerateCases streams case-study generation events. Previously
	// shown titles are passed so the generator avoids duplicates.
	GenerateCases(ctx context.Context, profile domain.Profile, excludeTitles []string) (<-chan Event, error)
}
