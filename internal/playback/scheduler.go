// Package playback reveals an already-resolved utterance one character
// at a time, decoupling the perceived typing cadence from how fast the
// generator actually delivered the text.
package playback

import (
	"sync"
	"time"
)

// DefaultInterval is the reveal cadence per character.
const DefaultInterval = 20 * time.Millisecond

// Scheduler drives at most one reveal at a time. Starting a new Play
// supersedes the previous one; Stop cancels outright. Callbacks stop
// immediately once a playback is cancelled — a torn-down view never
// receives a late tick.
type Scheduler struct {
	interval time.Duration

	mu      sync.Mutex
	current *playback
}

type playback struct {
	cancelled bool
}

// NewScheduler creates a scheduler with the given cadence. A
// non-positive interval falls back to DefaultInterval.
func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{interval: interval}
}

// Play reveals text character by character. onPrefix receives each
// successive prefix; onDone fires exactly once after the final prefix.
// Any in-flight playback is cancelled first. Callbacks run on the
// playback goroutine and must not call back into the Scheduler.
func (s *Scheduler) Play(text string, onPrefix func(string), onDone func()) {
	s.mu.Lock()
	if s.current != nil {
		s.current.cancelled = true
	}
	pb := &playback{}
	s.current = pb
	s.mu.Unlock()

	go s.run(pb, text, onPrefix, onDone)
}

// Stop cancels the in-flight playback, if any. After Stop returns no
// further callbacks are delivered. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.current != nil {
		s.current.cancelled = true
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *Scheduler) run(pb *playback, text string, onPrefix func(string), onDone func()) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	runes := []rune(text)
	for i := 1; i <= len(runes); i++ {
		<-ticker.C
		if !s.deliver(pb, func() { onPrefix(string(runes[:i])) }) {
			return
		}
	}
	s.deliver(pb, onDone)
}

// deliver invokes cb under the scheduler lock unless pb was cancelled.
// Holding the lock makes Stop a hard barrier: once it returns, no
// further callback can start.
func (s *Scheduler) deliver(pb *playback, cb func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pb.cancelled {
		return false
	}
	cb()
	return true
}
