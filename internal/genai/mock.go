package genai

import (
	"context"

	"github.com/soyeahso/casefinder/internal/domain"
)

// MockGenerator is a test double for Generator.
type MockGenerator struct {
	IntroFunc func(ctx context.Context, profile domain.Profile) string
	ReplyFunc func(ctx context.Context, turns []domain.Turn, profile domain.Profile, cases []domain.CaseStudy) (string, error)
	CasesFunc func(ctx context.Context, profile domain.Profile, excludeTitles []string) (<-chan Event, error)
}

func (m *MockGenerator) GenerateIntroduction(ctx context.Context, profile domain.Profile) string {
	if m.IntroFunc != nil {
		return m.IntroFunc(ctx, profile)
	}
	return FallbackIntroduction(profile)
}

func (m *MockGenerator) GenerateReply(ctx context.Context, turns []domain.Turn, profile domain.Profile, cases []domain.CaseStudy) (string, error) {
	if m.ReplyFunc != nil {
		return m.ReplyFunc(ctx, turns, profile, cases)
	}
	return "mock reply", nil
}

func (m *MockGenerator) GenerateCases(ctx context.Context, profile domain.Profile, excludeTitles []string) (<-chan Event, error) {
	if m.CasesFunc != nil {
		return m.CasesFunc(ctx, profile, excludeTitles)
	}
	ch := make(chan Event, 2)
	ch <- Event{Type: EventDelta, Text: "mock "}
	ch <- Event{Type: EventResult, Cases: []domain.CaseStudy{{Title: "mock case"}}}
	close(ch)
	return ch, nil
}

// StaticCaseStream builds a closed event channel delivering the given
// cases after a few deltas, mimicking a successful generation stream.
func StaticCaseStream(cases ...domain.CaseStudy) <-chan Event {
	ch := make(chan Event, len(cases)+2)
	ch <- Event{Type: EventDelta, Text: "生成中..."}
	ch <- Event{Type: EventResult, Cases: cases}
	close(ch)
	return ch
}
