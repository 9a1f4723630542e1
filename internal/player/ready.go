package player

import "sync"

// readinessGate holds the single outstanding continuation to run once the
// current resource becomes playable. Setting a new continuation discards any
// pending one without invoking it: the newest load wins. Take removes the
// current continuation exactly once; later takes for the same resource
// return nil.
type readinessGate struct {
	mu      sync.Mutex
	pending func()
}

// Set replaces the pending continuation. A nil fn clears the gate.
func (g *readinessGate) Set(fn func()) {
	g.mu.Lock()
	g.pending = fn
	g.mu.Unlock()
}

// Take removes and returns the pending continuation, nil if none. The
// caller runs it; a Set racing a later invocation can then never rebind
// the continuation that was already taken.
func (g *readinessGate) Take() func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn := g.pending
	g.pending = nil
	return fn
}

// Pending reports whether a continuation is waiting.
func (g *readinessGate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}
