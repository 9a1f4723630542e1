package player

import (
	"log/slog"
	"sync"
	"time"
)

// PrefsStore persists durable session attributes across process restarts.
// Implementations must be safe for concurrent use.
type PrefsStore interface {
	// LoadPrefs returns the stored preferences for a session identifier.
	// ok is false when nothing is stored.
	LoadPrefs(id string) (p Prefs, ok bool, err error)
	// SavePrefs stores the preferences for a session identifier.
	SavePrefs(id string, p Prefs) error
}

// Registry owns the playback sessions for a process. Sessions are created
// on first use and never evicted; the host addresses them by identifier for
// their whole lifetime, including after Release.
type Registry struct {
	engine Engine
	sink   Sink
	routes AudioRouteConfigurator
	prefs  PrefsStore
	logger *slog.Logger
	cfg    SessionConfig

	mu       sync.RWMutex
	sessions map[string]*Session

	// lastStarted is the identifier of the session that most recently
	// began or resumed playback, used for route deactivation decisions.
	lastStarted string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSink sets the event sink shared by all sessions.
func WithSink(sink Sink) RegistryOption {
	return func(r *Registry) { r.sink = sink }
}

// WithRouteConfigurator sets the audio route configurator.
func WithRouteConfigurator(routes AudioRouteConfigurator) RegistryOption {
	return func(r *Registry) { r.routes = routes }
}

// WithPrefsStore sets the preference store used to restore and persist
// durable session attributes.
func WithPrefsStore(store PrefsStore) RegistryOption {
	return func(r *Registry) { r.prefs = store }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithSessionConfig sets the per-session tunables.
func WithSessionConfig(cfg SessionConfig) RegistryOption {
	return func(r *Registry) { r.cfg = cfg }
}

// NewRegistry creates a session registry backed by the given engine.
func NewRegistry(engine Engine, opts ...RegistryOption) *Registry {
	r := &Registry{
		engine:   engine,
		sink:     NopSink{},
		routes:   NopRouteConfigurator{},
		logger:   slog.Default(),
		cfg:      DefaultSessionConfig(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "player-registry"))
	return r
}

// GetOrCreate returns the session for id, creating it on first use. Newly
// created sessions start with stored preferences applied when a preference
// store is attached.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	if s, ok = r.sessions[id]; ok {
		r.mu.Unlock()
		return s
	}
	s = newSession(id, sessionDeps{
		engine:          r.engine,
		sink:            r.sink,
		routes:          r.routes,
		logger:          r.logger,
		cfg:             r.cfg,
		onStarted:       r.sessionStarted,
		onPlaybackEnded: r.playbackEnded,
		onPrefsChanged:  r.persistPrefs,
	})
	r.sessions[id] = s
	r.mu.Unlock()

	if r.prefs != nil {
		if p, found, err := r.prefs.LoadPrefs(id); err != nil {
			r.logger.Warn("restoring session preferences",
				slog.String("player_id", id),
				slog.String("error", err.Error()))
		} else if found {
			s.applyPrefs(p)
		}
	}
	r.logger.Debug("session created", slog.String("player_id", id))
	return s
}

// Get returns the session for id, or nil when it was never created.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// ForEach calls fn for every known session. fn must not call back into the
// registry's mutating methods.
func (r *Registry) ForEach(fn func(s *Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()
	for _, s := range snapshot {
		fn(s)
	}
}

// ReleaseAll releases every session and clears the mapping. Used only at
// process teardown.
func (r *Registry) ReleaseAll() {
	r.ForEach(func(s *Session) {
		if err := s.Release(); err != nil {
			r.logger.Warn("releasing session",
				slog.String("player_id", s.ID()),
				slog.String("error", err.Error()))
		}
	})
	r.mu.Lock()
	r.sessions = make(map[string]*Session)
	r.lastStarted = ""
	r.mu.Unlock()
}

// MostRecentlyStarted returns the identifier of the session that most
// recently began or resumed playback, empty when none has.
func (r *Registry) MostRecentlyStarted() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastStarted
}

// AnyPlaying reports whether at least one session is currently playing.
func (r *Registry) AnyPlaying() bool {
	playing := false
	r.ForEach(func(s *Session) {
		if s.State() == StatePlaying {
			playing = true
		}
	})
	return playing
}

// Stats is a point-in-time summary of the registry for health reporting
// and maintenance logging.
type Stats struct {
	Sessions int            `json:"sessions"`
	ByState  map[string]int `json:"by_state"`
	Playing  int            `json:"playing"`
}

// Stats returns a snapshot of session counts by state.
func (r *Registry) Stats() Stats {
	st := Stats{ByState: make(map[string]int)}
	r.ForEach(func(s *Session) {
		st.Sessions++
		state := s.State()
		st.ByState[state.String()]++
		if state == StatePlaying {
			st.Playing++
		}
	})
	return st
}

// sessionStarted records the most recently started session. Invoked by
// sessions outside their own mutex.
func (r *Registry) sessionStarted(id string) {
	r.mu.Lock()
	r.lastStarted = id
	r.mu.Unlock()
}

// playbackEnded deactivates the shared audio route when the finishing
// session was the most recently started one and nothing else is playing.
func (r *Registry) playbackEnded(id string) {
	r.mu.RLock()
	last := r.lastStarted
	r.mu.RUnlock()
	if last != id {
		return
	}
	if r.AnyPlaying() {
		return
	}
	s := r.Get(id)
	if s == nil {
		return
	}
	route := s.Prefs().Route
	if err := r.routes.Configure(route.category(), false, false); err != nil {
		r.logger.Warn("deactivating audio route",
			slog.String("player_id", id),
			slog.String("error", err.Error()))
	}
}

// persistPrefs writes changed session attributes to the preference store.
func (r *Registry) persistPrefs(id string, p Prefs) {
	if r.prefs == nil {
		return
	}
	start := time.Now()
	if err := r.prefs.SavePrefs(id, p); err != nil {
		r.logger.Warn("persisting session preferences",
			slog.String("player_id", id),
			slog.String("error", err.Error()))
		return
	}
	r.logger.Debug("session preferences persisted",
		slog.String("player_id", id),
		slog.Duration("elapsed", time.Since(start)))
}
