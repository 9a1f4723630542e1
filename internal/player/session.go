package player

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPositionTickInterval is the target granularity of periodic
// position reports.
const DefaultPositionTickInterval = 200 * time.Millisecond

// SessionConfig holds per-session tunables.
type SessionConfig struct {
	// PositionTickInterval is the target granularity of time observation.
	PositionTickInterval time.Duration
	// StallGracePeriod is how long the buffer may stay empty before a
	// stall is reported.
	StallGracePeriod time.Duration
	// SeekResumeCorrection corrects the reported state to playing when the
	// engine resumes playback as a side effect of a seek.
	SeekResumeCorrection bool
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PositionTickInterval: DefaultPositionTickInterval,
		StallGracePeriod:     DefaultStallGracePeriod,
		SeekResumeCorrection: true,
	}
}

// Prefs are the durable session attributes retained across reloads of the
// same session and, when a preference store is attached, across restarts.
type Prefs struct {
	Volume  float64
	Rate    float64
	Looping bool
	Route   PlayingRoute
}

// defaultPrefs returns the attribute defaults for a fresh session.
func defaultPrefs() Prefs {
	return Prefs{Volume: 1.0, Rate: 1.0, Route: RouteSpeakers}
}

// Session is one independently controlled playback unit. It owns exactly one
// engine resource at a time together with its four observations (time,
// status, end-of-media, buffer-empty); the observations are either all
// absent or all bound to the current resource instance.
//
// Commands arrive on the host's serialized command stream; engine callbacks
// arrive on engine-internal goroutines and are marshaled onto the session
// mutex through dispatch, which drops callbacks whose captured resource
// generation no longer matches.
type Session struct {
	id     string
	engine Engine
	sink   Sink
	routes AudioRouteConfigurator
	logger *slog.Logger
	cfg    SessionConfig

	// Registry-owned hooks. Invoked outside the session mutex.
	onStarted       func(id string)
	onPlaybackEnded func(id string)
	onPrefsChanged  func(id string, p Prefs)

	stall *StallMonitor
	ready readinessGate

	mu                sync.Mutex
	state             State
	sourceURL         string
	isLocal           bool
	volume            float64
	rate              float64
	looping           bool
	route             PlayingRoute
	waitForBufferFull bool
	live              *LiveStreamInfo

	resource     Resource
	generation   uint64
	observations []Observation

	duration      time.Duration
	durationKnown bool
	seekable      bool

	// readyHandled is true once the current resource's first StatusReady
	// has been processed. Reset whenever a new resource attaches.
	readyHandled bool

	// deferred collects closures to run after the mutex is released,
	// preserving append order. Used for readiness continuations and
	// registry hooks so they can safely re-enter the session.
	deferred []func()
}

// sessionDeps bundles the collaborators a session needs at construction.
type sessionDeps struct {
	engine Engine
	sink   Sink
	routes AudioRouteConfigurator
	logger *slog.Logger
	cfg    SessionConfig

	onStarted       func(id string)
	onPlaybackEnded func(id string)
	onPrefsChanged  func(id string, p Prefs)
}

func newSession(id string, deps sessionDeps) *Session {
	if deps.sink == nil {
		deps.sink = NopSink{}
	}
	if deps.routes == nil {
		deps.routes = NopRouteConfigurator{}
	}
	if deps.logger == nil {
		deps.logger = slog.Default()
	}
	if deps.cfg.PositionTickInterval <= 0 {
		deps.cfg.PositionTickInterval = DefaultPositionTickInterval
	}
	p := defaultPrefs()
	s := &Session{
		id:              id,
		engine:          deps.engine,
		sink:            deps.sink,
		routes:          deps.routes,
		logger:          deps.logger.With(slog.String("player_id", id)),
		cfg:             deps.cfg,
		onStarted:       deps.onStarted,
		onPlaybackEnded: deps.onPlaybackEnded,
		onPrefsChanged:  deps.onPrefsChanged,
		state:           StateIdle,
		volume:          p.Volume,
		rate:            p.Rate,
		route:           p.Route,
	}
	s.stall = NewStallMonitor(deps.cfg.StallGracePeriod, s.reportStall)
	return s
}

// ID returns the host-supplied session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SourceURL returns the URL of the current source, empty before any load.
func (s *Session) SourceURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceURL
}

// Prefs returns a snapshot of the durable session attributes.
func (s *Session) Prefs() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Prefs{Volume: s.volume, Rate: s.rate, Looping: s.looping, Route: s.route}
}

// applyPrefs seeds the durable attributes, used when restoring persisted
// preferences at session creation. It does not touch a loaded resource.
func (s *Session) applyPrefs(p Prefs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Volume > 0 {
		s.volume = clamp01(p.Volume)
	}
	if p.Rate > 0 {
		s.rate = p.Rate
	}
	s.looping = p.Looping
	if p.Route.Valid() {
		s.route = p.Route
	}
}

// Load prepares the session for the described source and arranges for
// onReady to run once the resource is playable. A load with an unchanged,
// healthy source is a cheap refresh: live parameters are updated, an
// optional seek is performed, and onReady runs without recreating the
// resource. Each call supersedes any continuation still pending from an
// earlier load; superseded continuations are discarded, never invoked.
//
// Engine-level load failures do not surface as a returned error; they are
// reported through the event sink and leave the session in StateFailed,
// from which the next Load retries cleanly.
func (s *Session) Load(desc SourceDescriptor, live *LiveStreamInfo, onReady func()) error {
	if desc.URL == "" {
		return ErrMissingParameter
	}

	s.mu.Lock()

	// Live parameters apply on every path, before any continuation fires.
	s.live = live.Clone()

	needsReload := s.resource == nil || s.sourceURL != desc.URL || s.state == StateFailed
	if !needsReload {
		if s.state == StateReady || s.state == StatePlaying || s.state == StatePaused {
			var target time.Duration
			if desc.StartAt != nil {
				target = *desc.StartAt
			}
			s.seekLocked(target)
			if onReady != nil {
				s.deferred = append(s.deferred, onReady)
			}
		} else {
			// Still loading the same URL: the new continuation wins.
			s.ready.Set(onReady)
		}
		s.unlockAndRunDeferred()
		return nil
	}

	s.teardownResourceLocked()
	s.setStateLocked(StateLoading)
	s.sourceURL = desc.URL
	s.isLocal = desc.IsLocal
	s.waitForBufferFull = desc.WaitForBufferFull
	s.durationKnown = false
	s.duration = 0
	s.seekable = false
	s.readyHandled = false
	s.ready.Set(onReady)

	res, err := s.engine.Load(context.Background(), desc.URL, desc.IsLocal, desc.loadOptions())
	if err != nil {
		s.setStateLocked(StateFailed)
		s.publishLocked(errorEvent(s.id, ErrLoadFailed.Error()+": "+err.Error()))
		s.unlockAndRunDeferred()
		return nil
	}

	s.resource = res
	if verr := res.SetVolume(s.volume); verr != nil {
		s.logger.Debug("applying volume to new resource", slog.String("error", verr.Error()))
	}
	if rerr := res.SetRate(s.rate); rerr != nil {
		s.logger.Debug("applying rate to new resource", slog.String("error", rerr.Error()))
	}

	gen := s.generation
	s.observations = []Observation{
		res.ObserveTime(s.cfg.PositionTickInterval, func(t time.Duration) {
			s.dispatch(gen, func() { s.handleTickLocked(t) })
		}),
		res.ObserveStatus(func(st ResourceStatus, serr error) {
			s.dispatch(gen, func() { s.handleStatusLocked(st, serr) })
		}),
		res.ObserveEndOfMedia(func() {
			s.dispatch(gen, func() { s.handleEndOfMediaLocked() })
		}),
		res.ObserveBufferEmpty(func(empty bool) {
			s.dispatch(gen, func() { s.handleBufferEmptyLocked(empty) })
		}),
	}

	s.unlockAndRunDeferred()
	return nil
}

// Play sets the volume if supplied, performs an optional initial seek, and
// starts playback at the current rate. With no loaded resource it returns
// ErrNoResource, which callers treat as an empty result.
func (s *Session) Play(volume *float64, startAt *time.Duration) error {
	s.mu.Lock()

	if volume != nil {
		s.volume = clamp01(*volume)
	}
	if s.resource == nil {
		s.unlockAndRunDeferred()
		return ErrNoResource
	}
	if volume != nil {
		if err := s.resource.SetVolume(s.volume); err != nil {
			s.logger.Debug("setting volume", slog.String("error", err.Error()))
		}
	}
	if startAt != nil {
		s.seekLocked(*startAt)
	}
	if err := s.resource.Play(s.rate); err != nil {
		s.publishLocked(errorEvent(s.id, err.Error()))
		s.unlockAndRunDeferred()
		return nil
	}
	s.setStateLocked(StatePlaying)
	s.deferStartedHookLocked()
	s.deferPrefsHookLocked()
	s.unlockAndRunDeferred()
	return nil
}

// Pause suspends playback. Idempotent; a no-op without a resource.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resource == nil {
		return nil
	}
	switch s.state {
	case StatePlaying, StatePaused, StateReady:
		if err := s.resource.Pause(); err != nil {
			return err
		}
		s.setStateLocked(StatePaused)
	}
	return nil
}

// Resume restarts playback at the current rate without reloading.
func (s *Session) Resume() error {
	s.mu.Lock()

	if s.resource == nil {
		s.unlockAndRunDeferred()
		return ErrNoResource
	}
	if err := s.resource.Play(s.rate); err != nil {
		s.unlockAndRunDeferred()
		return err
	}
	s.setStateLocked(StatePlaying)
	s.deferStartedHookLocked()
	s.unlockAndRunDeferred()
	return nil
}

// Stop pauses playback and detaches the current resource, freeing decode
// state while retaining session attributes for a subsequent load.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resource != nil {
		if err := s.resource.Pause(); err != nil {
			s.logger.Debug("pausing before stop", slog.String("error", err.Error()))
		}
	}
	s.teardownResourceLocked()
	s.sourceURL = ""
	s.setStateLocked(StateStopped)
	return nil
}

// Release stops playback and discards all observers and timers. The session
// stays addressable by identifier; a new Load reactivates it.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resource != nil {
		if err := s.resource.Pause(); err != nil {
			s.logger.Debug("pausing before release", slog.String("error", err.Error()))
		}
	}
	s.teardownResourceLocked()
	s.sourceURL = ""
	s.setStateLocked(StateReleased)
	return nil
}

// Seek requests an engine seek. On completion a seek-completed event with a
// success flag is emitted. Seeking does not change the playing/paused state
// unless the engine auto-resumes and the resume-correction policy is on.
func (s *Session) Seek(target time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resource == nil {
		return ErrNoResource
	}
	s.seekLocked(target)
	return nil
}

// SkipForward seeks ahead by interval, clamped to the media duration.
// A no-op when either the position or the duration is unavailable.
func (s *Session) SkipForward(interval time.Duration) error {
	return s.skip(interval)
}

// SkipBackward seeks back by interval, clamped to zero.
// A no-op when either the position or the duration is unavailable.
func (s *Session) SkipBackward(interval time.Duration) error {
	return s.skip(-interval)
}

func (s *Session) skip(delta time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resource == nil || !s.durationKnown {
		return nil
	}
	target := s.resource.CurrentTime() + delta
	if target < 0 {
		target = 0
	}
	if target > s.duration {
		target = s.duration
	}
	s.seekLocked(target)
	return nil
}

// SetVolume sets the session volume, pushing it to a loaded resource.
func (s *Session) SetVolume(v float64) error {
	s.mu.Lock()
	s.volume = clamp01(v)
	if s.resource != nil {
		if err := s.resource.SetVolume(s.volume); err != nil {
			s.unlockAndRunDeferred()
			return err
		}
	}
	s.deferPrefsHookLocked()
	s.unlockAndRunDeferred()
	return nil
}

// SetPlaybackRate sets the playback rate, pushing it to a loaded resource
// and emitting an out-of-band position report so consumers see the change
// promptly.
func (s *Session) SetPlaybackRate(rate float64) error {
	s.mu.Lock()
	s.rate = rate
	if s.resource != nil {
		if err := s.resource.SetRate(rate); err != nil {
			s.unlockAndRunDeferred()
			return err
		}
		s.emitPositionLocked(s.resource.CurrentTime())
	}
	s.deferPrefsHookLocked()
	s.unlockAndRunDeferred()
	return nil
}

// SetLooping sets whether playback restarts from zero at end of media.
func (s *Session) SetLooping(looping bool) error {
	s.mu.Lock()
	s.looping = looping
	s.deferPrefsHookLocked()
	s.unlockAndRunDeferred()
	return nil
}

// SetPlayingRoute switches the audio output route and pushes the matching
// audio-session category to the route configurator.
func (s *Session) SetPlayingRoute(route PlayingRoute) error {
	if !route.Valid() {
		return ErrInvalidRoute
	}
	s.mu.Lock()
	s.route = route
	if err := s.routes.Configure(route.category(), false, true); err != nil {
		s.logger.Warn("configuring audio route",
			slog.String("route", string(route)),
			slog.String("error", err.Error()))
	}
	s.deferPrefsHookLocked()
	s.unlockAndRunDeferred()
	return nil
}

// UpdateLiveInfo updates the host-supplied live-stream anchors without
// reloading. The derived chunk-duration fallback is retained.
func (s *Session) UpdateLiveInfo(baseTimeEpochSeconds *int64, elapsed *time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live == nil {
		s.live = &LiveStreamInfo{}
	}
	s.live.BaseTimeEpochSeconds = baseTimeEpochSeconds
	s.live.ElapsedTime = elapsed
	return nil
}

// Duration returns the media duration when known. ok is false before a load
// completes and for live sources with indefinite duration.
func (s *Session) Duration() (d time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resource == nil || !s.durationKnown {
		return 0, false
	}
	return s.duration, true
}

// Position returns the computed playback position. ok is false without a
// loaded resource. The same position model backs the periodic tick reports,
// so polled and queried positions cannot diverge.
func (s *Session) Position() (PositionReading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resource == nil {
		return PositionReading{}, false
	}
	return s.positionLocked(s.resource.CurrentTime()), true
}

// Seekable reports whether the current source is seekable. Live sources
// with indefinite duration are reported as non-seekable.
func (s *Session) Seekable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seekable
}

// dispatch runs fn under the session mutex if the captured resource
// generation is still current, then runs any closures fn deferred. Stale
// callbacks for a superseded resource are silently dropped.
func (s *Session) dispatch(gen uint64, fn func()) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	fn()
	s.unlockAndRunDeferred()
}

// unlockAndRunDeferred releases the mutex and runs the deferred closures in
// append order. Deferred closures may re-enter the session.
func (s *Session) unlockAndRunDeferred() {
	defs := s.deferred
	s.deferred = nil
	s.mu.Unlock()
	for _, fn := range defs {
		fn()
	}
}

// teardownResourceLocked cancels the resource's observations before
// discarding the resource reference, bumps the generation so in-flight
// callbacks for the old resource are dropped, and stops the stall timer.
func (s *Session) teardownResourceLocked() {
	for _, obs := range s.observations {
		obs.Cancel()
	}
	s.observations = nil
	if s.resource != nil {
		s.resource.Release()
		s.resource = nil
	}
	s.stall.Cancel()
	s.generation++
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("state transition",
		slog.String("from", s.state.String()),
		slog.String("to", next.String()))
	s.state = next
	if !next.allowsStallTimer() {
		s.stall.Cancel()
	}
}

func (s *Session) seekLocked(target time.Duration) {
	gen := s.generation
	s.resource.Seek(target, func(r SeekResult) {
		s.dispatch(gen, func() { s.handleSeekCompleteLocked(r) })
	})
}

func (s *Session) handleStatusLocked(st ResourceStatus, err error) {
	switch st {
	case StatusReady:
		if s.readyHandled || s.state == StateFailed {
			// Duplicate ready reports for the same resource are no-ops,
			// and a failed resource only recovers through a new load.
			return
		}
		s.readyHandled = true
		d, known := s.resource.MediaDuration()
		s.duration = d
		s.durationKnown = known
		s.seekable = known

		// Derive the chunk-duration fallback once, when the stream exposes
		// no absolute program time.
		if s.live != nil && s.live.ChunkDurationFallback == 0 {
			if _, hasPDT := s.resource.ProgramDateTime(); !hasPDT {
				if ranges := s.resource.SeekableRanges(); len(ranges) > 0 {
					s.live.ChunkDurationFallback = ranges[0].Start
				}
			}
		}

		// Play before readiness already moved the session to StatePlaying;
		// readiness must not demote it.
		if s.state == StateLoading {
			s.setStateLocked(StateReady)
		}
		if known {
			s.publishLocked(durationEvent(s.id, d.Milliseconds()))
		}
		s.publishLocked(seekableEvent(s.id, s.seekable))
		if fn := s.ready.Take(); fn != nil {
			s.deferred = append(s.deferred, fn)
		}

	case StatusFailed:
		msg := ErrLoadFailed.Error()
		if err != nil {
			msg += ": " + err.Error()
		}
		s.setStateLocked(StateFailed)
		s.publishLocked(errorEvent(s.id, msg))
		// The pending continuation stays unresolved; the next load
		// supersedes it.
	}
}

func (s *Session) handleTickLocked(raw time.Duration) {
	s.emitPositionLocked(raw)
}

func (s *Session) handleEndOfMediaLocked() {
	if s.state != StatePlaying {
		// Spurious redelivery after a pause or stop.
		return
	}
	if err := s.resource.Pause(); err != nil {
		s.logger.Debug("pausing at end of media", slog.String("error", err.Error()))
	}
	if s.looping {
		s.seekLocked(0)
		if err := s.resource.Play(s.rate); err != nil {
			s.logger.Debug("restarting looped playback", slog.String("error", err.Error()))
		}
	} else {
		s.setStateLocked(StatePaused)
	}
	s.publishLocked(completeEvent(s.id))
	s.deferEndedHookLocked()
}

func (s *Session) handleBufferEmptyLocked(empty bool) {
	if empty && s.state.allowsStallTimer() {
		s.stall.Arm()
	} else {
		s.stall.Cancel()
	}
}

func (s *Session) handleSeekCompleteLocked(r SeekResult) {
	s.publishLocked(seekCompleteEvent(s.id, r.Completed))
	if r.AutoResumed && s.cfg.SeekResumeCorrection && s.state == StatePaused {
		s.setStateLocked(StatePlaying)
	}
}

// reportStall is the stall monitor's expiry callback. It reports a
// buffering stall without changing the playback state; the engine may
// recover on its own.
func (s *Session) reportStall() {
	s.mu.Lock()
	if !s.state.allowsStallTimer() {
		s.mu.Unlock()
		return
	}
	s.publishLocked(errorEvent(s.id, ErrBufferingStall.Error()))
	s.mu.Unlock()
}

func (s *Session) positionLocked(raw time.Duration) PositionReading {
	pdt, hasPDT := s.resource.ProgramDateTime()
	reading := PositionReading{
		Elapsed: ComputePosition(raw, pdt, hasPDT, s.live),
	}
	if hasPDT {
		reading.LiveTimestamp = pdt
	}
	return reading
}

func (s *Session) emitPositionLocked(raw time.Duration) {
	reading := s.positionLocked(raw)
	var liveMs *int64
	if !reading.LiveTimestamp.IsZero() {
		v := reading.LiveTimestamp.UnixMilli()
		liveMs = &v
	}
	s.publishLocked(positionEvent(s.id, reading.Elapsed.Milliseconds(), liveMs))
}

func (s *Session) publishLocked(ev Event) {
	s.sink.Publish(ev)
}

func (s *Session) deferStartedHookLocked() {
	if s.onStarted != nil {
		s.deferred = append(s.deferred, func() { s.onStarted(s.id) })
	}
}

func (s *Session) deferEndedHookLocked() {
	if s.onPlaybackEnded != nil {
		s.deferred = append(s.deferred, func() { s.onPlaybackEnded(s.id) })
	}
}

func (s *Session) deferPrefsHookLocked() {
	if s.onPrefsChanged == nil {
		return
	}
	p := Prefs{Volume: s.volume, Rate: s.rate, Looping: s.looping, Route: s.route}
	s.deferred = append(s.deferred, func() { s.onPrefsChanged(s.id, p) })
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
