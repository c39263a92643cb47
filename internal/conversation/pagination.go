package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/casefinder/internal/domain"
	"github.com/soyeahso/casefinder/internal/genai"
	"github.com/soyeahso/casefinder/internal/logging"
)

const (
	// PageSize is the number of cases revealed per load.
	PageSize = 2
	// MaxPages caps progressive disclosure; beyond it the caller shows
	// the contact affordance instead.
	MaxPages = 3

	// cachedPageDelay paces a page served entirely from cache so its
	// response time resembles a generated one.
	cachedPageDelay = 1500 * time.Millisecond
)

// ErrExhausted is returned by LoadMore once every page has been shown.
var ErrExhausted = errors.New("no more pages")

// Paginator discloses generated cases page by page. Cases already
// fetched are reused; a page with no cached material triggers one
// generation call that excludes every title shown so far. Safe for
// concurrent use.
type Paginator struct {
	gen     genai.Generator
	profile domain.Profile
	log     *logging.Logger

	// Delay is applied when a page is served from cache. Tests set it
	// to zero.
	Delay time.Duration

	// OnFetched, when set, fires after a generation call grows the
	// fetched list. Used to persist the accumulated cases. Invoked
	// with the paginator lock held; must not call back in.
	OnFetched func(cases []domain.CaseStudy)

	mu      sync.Mutex
	fetched []domain.CaseStudy
	visible int
	loads   int // successful LoadMore calls so far
}

// NewPaginator seeds the controller with any previously persisted
// cases. The first page is visible immediately.
func NewPaginator(gen genai.Generator, profile domain.Profile, seed []domain.CaseStudy, log *logging.Logger) *Paginator {
	return &Paginator{
		gen:     gen,
		profile: profile,
		log:     log.Sub("pagination"),
		Delay:   cachedPageDelay,
		fetched: domain.DedupCases(nil, seed),
		visible: PageSize,
	}
}

// Visible returns the currently disclosed slice of cases.
func (p *Paginator) Visible() []domain.CaseStudy {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.visible
	if n > len(p.fetched) {
		n = len(p.fetched)
	}
	return append([]domain.CaseStudy(nil), p.fetched[:n]...)
}

// Fetched returns every case accumulated so far, shown or not.
func (p *Paginator) Fetched() []domain.CaseStudy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.CaseStudy(nil), p.fetched...)
}

// Exhausted reports whether the load cap has been reached.
func (p *Paginator) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads >= MaxPages
}

// Seed merges externally resolved cases into the fetched list, so a
// later LoadMore excludes their titles and reuses them before hitting
// the network. Does not count as a load and does not fire OnFetched.
func (p *Paginator) Seed(cases []domain.CaseStudy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetched = domain.DedupCases(p.fetched, cases)
}

// LoadMore reveals the next page. If the cases are already fetched the
// call is purely local; otherwise one generation call fills the page,
// excluding every title fetched so far. After MaxPages successful
// loads it returns ErrExhausted without touching the network.
func (p *Paginator) LoadMore(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loads >= MaxPages {
		return ErrExhausted
	}

	fetchedAny := false
	for len(p.fetched) < p.visible+PageSize {
		added, err := p.fetch(ctx)
		if err != nil {
			return err
		}
		fetchedAny = true
		if added == 0 {
			// Generator has nothing new; show what there is.
			break
		}
	}

	if !fetchedAny && p.Delay > 0 {
		if err := sleepContext(ctx, p.Delay); err != nil {
			return err
		}
	}

	p.visible += PageSize
	p.loads++
	return nil
}

// fetch runs one generation call and merges the result. Caller holds
// the lock.
func (p *Paginator) fetch(ctx context.Context) (int, error) {
	exclude := domain.CaseTitles(p.fetched)
	events, err := p.gen.GenerateCases(ctx, p.profile, exclude)
	if err != nil {
		return 0, fmt.Errorf("starting case generation: %w", err)
	}

	var result []domain.CaseStudy
	for ev := range events {
		switch ev.Type {
		case genai.EventResult:
			result = ev.Cases
		case genai.EventError:
			return 0, fmt.Errorf("case generation: %s", ev.Err)
		}
	}

	before := len(p.fetched)
	p.fetched = domain.DedupCases(p.fetched, result)
	added := len(p.fetched) - before
	p.log.Info().
		Int("excluded", len(exclude)).
		Int("added", added).
		Msg("fetched case page")

	if p.OnFetched != nil && added > 0 {
		p.OnFetched(append([]domain.CaseStudy(nil), p.fetched...))
	}
	return added, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
