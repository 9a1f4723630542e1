package playertest

import (
	"sync"

	"github.com/gnus-inc/audioplayers/internal/player"
)

// Sink records published events for assertions.
type Sink struct {
	mu     sync.Mutex
	events []player.Event
}

// NewSink creates an empty recording sink.
func NewSink() *Sink {
	return &Sink{}
}

// Publish implements player.Sink.
func (s *Sink) Publish(ev player.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

// Events returns a copy of everything published so far, in order.
func (s *Sink) Events() []player.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]player.Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType returns the recorded events of one type, in order.
func (s *Sink) OfType(t player.EventType) []player.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []player.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Reset discards all recorded events.
func (s *Sink) Reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}
