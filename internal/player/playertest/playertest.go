// Package playertest provides a scripted in-memory playback engine for
// exercising session logic without real media. Tests drive resource
// readiness, time ticks, buffer occupancy, and seek completions explicitly.
package playertest

import (
	"context"
	"sync"
	"time"

	"github.com/gnus-inc/audioplayers/internal/player"
)

// Engine records every load and hands out scripted resources.
type Engine struct {
	mu       sync.Mutex
	loads    []*Resource
	failNext error
}

// NewEngine creates an empty scripted engine.
func NewEngine() *Engine {
	return &Engine{}
}

// FailNextLoad makes the next Load call return err instead of a resource.
func (e *Engine) FailNextLoad(err error) {
	e.mu.Lock()
	e.failNext = err
	e.mu.Unlock()
}

// Load implements player.Engine.
func (e *Engine) Load(_ context.Context, url string, isLocal bool, opts player.LoadOptions) (player.Resource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNext != nil {
		err := e.failNext
		e.failNext = nil
		return nil, err
	}
	r := &Resource{
		URL:     url,
		IsLocal: isLocal,
		Opts:    opts,
		volume:  1.0,
		rate:    1.0,
	}
	e.loads = append(e.loads, r)
	return r, nil
}

// Loads returns how many resources have been created.
func (e *Engine) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loads)
}

// ResourceAt returns the i-th created resource.
func (e *Engine) ResourceAt(i int) *Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads[i]
}

// LastResource returns the most recently created resource, nil when none.
func (e *Engine) LastResource() *Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.loads) == 0 {
		return nil
	}
	return e.loads[len(e.loads)-1]
}

type pendingSeek struct {
	target     time.Duration
	onComplete func(player.SeekResult)
}

type observation struct {
	cancel func()
}

func (o observation) Cancel() { o.cancel() }

// Resource is a scripted playback resource. Observer callbacks are invoked
// from the test goroutine that calls the Emit/SetReady/FailLoad methods,
// never from the registering call, and always with the resource's own lock
// released.
type Resource struct {
	URL     string
	IsLocal bool
	Opts    player.LoadOptions

	mu            sync.Mutex
	duration      time.Duration
	durationKnown bool
	current       time.Duration
	pdt           time.Time
	pdtKnown      bool
	ranges        []player.TimeRange
	volume        float64
	rate          float64
	playing       bool
	released      bool
	playCalls     int
	pauseCalls    int

	pendingSeeks []pendingSeek
	seekTargets  []time.Duration

	nextObsID uint64
	timeObs   map[uint64]func(time.Duration)
	statusObs map[uint64]func(player.ResourceStatus, error)
	endObs    map[uint64]func()
	bufferObs map[uint64]func(bool)
}

// Scripting knobs.

// SetDuration scripts a known finite media duration, reported on ready.
func (r *Resource) SetDuration(d time.Duration) {
	r.mu.Lock()
	r.duration = d
	r.durationKnown = true
	r.mu.Unlock()
}

// SetProgramDateTime scripts an absolute program timestamp for the
// current playhead.
func (r *Resource) SetProgramDateTime(t time.Time) {
	r.mu.Lock()
	r.pdt = t
	r.pdtKnown = true
	r.mu.Unlock()
}

// SetSeekableRanges scripts the seekable window.
func (r *Resource) SetSeekableRanges(ranges ...player.TimeRange) {
	r.mu.Lock()
	r.ranges = ranges
	r.mu.Unlock()
}

// SetCurrentTime moves the playhead without emitting a tick.
func (r *Resource) SetCurrentTime(t time.Duration) {
	r.mu.Lock()
	r.current = t
	r.mu.Unlock()
}

// SetReady delivers a ready status to the status observers.
func (r *Resource) SetReady() {
	for _, fn := range r.snapshotStatus() {
		fn(player.StatusReady, nil)
	}
}

// FailLoad delivers a failed status to the status observers.
func (r *Resource) FailLoad(err error) {
	for _, fn := range r.snapshotStatus() {
		fn(player.StatusFailed, err)
	}
}

// EmitTime moves the playhead and delivers a periodic time tick.
func (r *Resource) EmitTime(t time.Duration) {
	r.mu.Lock()
	r.current = t
	fns := make([]func(time.Duration), 0, len(r.timeObs))
	for _, fn := range r.timeObs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(t)
	}
}

// EmitEndOfMedia delivers an end-of-media notification.
func (r *Resource) EmitEndOfMedia() {
	r.mu.Lock()
	fns := make([]func(), 0, len(r.endObs))
	for _, fn := range r.endObs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// EmitBufferEmpty delivers a buffer occupancy change.
func (r *Resource) EmitBufferEmpty(empty bool) {
	r.mu.Lock()
	fns := make([]func(bool), 0, len(r.bufferObs))
	for _, fn := range r.bufferObs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(empty)
	}
}

// CompleteSeek completes the oldest pending seek with the given result.
// It panics when no seek is pending.
func (r *Resource) CompleteSeek(result player.SeekResult) {
	r.mu.Lock()
	if len(r.pendingSeeks) == 0 {
		r.mu.Unlock()
		panic("playertest: CompleteSeek with no pending seek")
	}
	ps := r.pendingSeeks[0]
	r.pendingSeeks = r.pendingSeeks[1:]
	r.current = ps.target
	r.mu.Unlock()
	if ps.onComplete != nil {
		ps.onComplete(result)
	}
}

// Inspection.

// Playing reports whether the last transport command was a play.
func (r *Resource) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// Released reports whether Release has been called.
func (r *Resource) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Volume returns the last volume pushed to the resource.
func (r *Resource) Volume() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volume
}

// Rate returns the last rate pushed to the resource.
func (r *Resource) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate
}

// PlayCalls returns how many times Play was invoked.
func (r *Resource) PlayCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playCalls
}

// PauseCalls returns how many times Pause was invoked.
func (r *Resource) PauseCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauseCalls
}

// PendingSeeks returns the count of seeks awaiting completion.
func (r *Resource) PendingSeeks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingSeeks)
}

// SeekTargets returns every seek target requested so far, in order.
func (r *Resource) SeekTargets() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.seekTargets))
	copy(out, r.seekTargets)
	return out
}

// ActiveObservations returns how many observations are currently
// registered and not cancelled.
func (r *Resource) ActiveObservations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timeObs) + len(r.statusObs) + len(r.endObs) + len(r.bufferObs)
}

// player.Resource implementation.

func (r *Resource) Play(rate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = true
	r.rate = rate
	r.playCalls++
	return nil
}

func (r *Resource) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = false
	r.pauseCalls++
	return nil
}

func (r *Resource) Seek(target time.Duration, onComplete func(player.SeekResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seekTargets = append(r.seekTargets, target)
	r.pendingSeeks = append(r.pendingSeeks, pendingSeek{target: target, onComplete: onComplete})
}

func (r *Resource) SetVolume(v float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volume = v
	return nil
}

func (r *Resource) SetRate(rate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate = rate
	return nil
}

func (r *Resource) CurrentTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Resource) MediaDuration() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration, r.durationKnown
}

func (r *Resource) SeekableRanges() []player.TimeRange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]player.TimeRange, len(r.ranges))
	copy(out, r.ranges)
	return out
}

func (r *Resource) ProgramDateTime() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pdt, r.pdtKnown
}

func (r *Resource) ObserveTime(_ time.Duration, fn func(time.Duration)) player.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timeObs == nil {
		r.timeObs = make(map[uint64]func(time.Duration))
	}
	id := r.nextObsID
	r.nextObsID++
	r.timeObs[id] = fn
	return observation{cancel: func() {
		r.mu.Lock()
		delete(r.timeObs, id)
		r.mu.Unlock()
	}}
}

func (r *Resource) ObserveStatus(fn func(player.ResourceStatus, error)) player.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusObs == nil {
		r.statusObs = make(map[uint64]func(player.ResourceStatus, error))
	}
	id := r.nextObsID
	r.nextObsID++
	r.statusObs[id] = fn
	return observation{cancel: func() {
		r.mu.Lock()
		delete(r.statusObs, id)
		r.mu.Unlock()
	}}
}

func (r *Resource) ObserveEndOfMedia(fn func()) player.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endObs == nil {
		r.endObs = make(map[uint64]func())
	}
	id := r.nextObsID
	r.nextObsID++
	r.endObs[id] = fn
	return observation{cancel: func() {
		r.mu.Lock()
		delete(r.endObs, id)
		r.mu.Unlock()
	}}
}

func (r *Resource) ObserveBufferEmpty(fn func(bool)) player.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bufferObs == nil {
		r.bufferObs = make(map[uint64]func(bool))
	}
	id := r.nextObsID
	r.nextObsID++
	r.bufferObs[id] = fn
	return observation{cancel: func() {
		r.mu.Lock()
		delete(r.bufferObs, id)
		r.mu.Unlock()
	}}
}

func (r *Resource) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.playing = false
}

func (r *Resource) snapshotStatus() []func(player.ResourceStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fns := make([]func(player.ResourceStatus, error), 0, len(r.statusObs))
	for _, fn := range r.statusObs {
		fns = append(fns, fn)
	}
	return fns
}
