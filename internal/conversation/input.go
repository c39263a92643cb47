package conversation

// ambiguousKeyCode is the keycode some platforms report for every
// keystroke while an IME composition is active. An Enter carrying it
// must not submit even when the composing flag was never observed.
const ambiguousKeyCode = 229

// KeyEvent is a keyboard event as reported by the input surface.
type KeyEvent struct {
	Key  string
	Code int
}

// SendGate decides whether an Enter keystroke should submit the
// message. Input methods for Japanese and other languages confirm
// composition candidates with Enter; submitting on those keystrokes
// would send half-composed text.
type SendGate struct {
	composing bool
}

// StartComposition marks an IME composition as active.
func (g *SendGate) StartComposition() {
	g.composing = true
}

// EndComposition marks the composition as confirmed or cancelled.
func (g *SendGate) EndComposition() {
	g.composing = false
}

// Composing reports whether a composition is currently active.
func (g *SendGate) Composing() bool {
	return g.composing
}

// Accept reports whether ev should trigger a send. Only a plain Enter
// outside composition qualifies.
func (g *SendGate) Accept(ev KeyEvent) bool {
	if ev.Key != "Enter" {
		return false
	}
	if g.composing || ev.Code == ambiguousKeyCode {
		return false
	}
	return true
}
