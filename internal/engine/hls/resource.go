package hls

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/gnus-inc/audioplayers/internal/player"
)

// housekeepingInterval bounds how late end-of-media detection may run.
const housekeepingInterval = 100 * time.Millisecond

// errNotMedia is reported when a live refresh returns a multivariant
// playlist instead of the expected media playlist.
var errNotMedia = errors.New("refresh did not return a media playlist")

type observerSet[T any] struct {
	next uint64
	fns  map[uint64]T
}

func (o *observerSet[T]) add(fn T) uint64 {
	if o.fns == nil {
		o.fns = make(map[uint64]T)
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return id
}

func (o *observerSet[T]) snapshot() []T {
	out := make([]T, 0, len(o.fns))
	for _, fn := range o.fns {
		out = append(out, fn)
	}
	return out
}

type cancelFunc func()

func (f cancelFunc) Cancel() { f() }

// resource is a headless HLS playback resource. A clock paces the playhead
// over the parsed playlist timeline; live playlists are refreshed on a poll
// loop and refresh failures surface as buffer-empty transitions.
type resource struct {
	eng       *Engine
	sourceURL string
	isLocal   bool
	opts      player.LoadOptions
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    player.ResourceStatus
	statusErr error
	mediaURL  string
	endlist   bool
	duration  time.Duration
	target    time.Duration
	winStart  time.Duration
	winEnd    time.Duration
	baseTime  time.Time
	hasBase   bool
	released  bool
	ended     bool
	errStreak int

	// Playback clock. position = clockBase + wall-elapsed * rate while
	// playing, clockBase otherwise.
	playing    bool
	pendPlay   bool
	rate       float64
	clockBase  time.Duration
	clockStart time.Time

	statusObs observerSet[func(player.ResourceStatus, error)]
	endObs    observerSet[func()]
	bufferObs observerSet[func(bool)]
}

func newResource(eng *Engine, sourceURL string, isLocal bool, opts player.LoadOptions) *resource {
	ctx, cancel := context.WithCancel(context.Background())
	return &resource{
		eng:       eng,
		sourceURL: sourceURL,
		isLocal:   isLocal,
		opts:      opts,
		logger:    eng.logger.With(slog.String("url", sourceURL)),
		ctx:       ctx,
		cancel:    cancel,
		rate:      1.0,
		clockBase: opts.StartAt,
	}
}

// prepare fetches and parses the playlist, reports readiness, and starts
// the housekeeping and live refresh loops. Runs on its own goroutine.
func (r *resource) prepare(ctx context.Context) {
	data, err := r.eng.fetchPlaylist(ctx, r.sourceURL, r.isLocal)
	if err != nil {
		r.fail(err)
		return
	}
	media, mediaURL, err := r.eng.resolveMedia(ctx, r.sourceURL, r.isLocal, data)
	if err != nil {
		r.fail(err)
		return
	}

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.mediaURL = mediaURL
	r.applyPlaylistLocked(media)
	r.status = player.StatusReady
	if r.pendPlay {
		r.pendPlay = false
		r.playing = true
		r.clockStart = time.Now()
	}
	fns := r.statusObs.snapshot()
	live := !r.endlist
	r.mu.Unlock()

	r.logger.Debug("resource ready",
		slog.Bool("live", live),
		slog.Duration("duration", r.durationValue()))

	for _, fn := range fns {
		fn(player.StatusReady, nil)
	}

	go r.housekeep()
	if live {
		go r.refreshLoop()
	}
}

// applyPlaylistLocked folds a parsed media playlist into the timeline.
func (r *resource) applyPlaylistLocked(media *playlist.Media) {
	var total time.Duration
	for _, seg := range media.Segments {
		if seg != nil {
			total += seg.Duration
		}
	}
	r.endlist = media.Endlist
	r.duration = total
	r.target = time.Duration(media.TargetDuration) * time.Second

	// Offset of the oldest available segment in the stream timeline,
	// approximated from the media sequence number.
	var start time.Duration
	if media.MediaSequence > 0 && len(media.Segments) > 0 {
		start = time.Duration(media.MediaSequence) * (total / time.Duration(len(media.Segments)))
	}
	r.winStart = start
	r.winEnd = start + total

	r.hasBase = false
	for _, seg := range media.Segments {
		if seg != nil && seg.DateTime != nil {
			r.baseTime = *seg.DateTime
			r.hasBase = true
			break
		}
	}
}

func (r *resource) fail(err error) {
	r.mu.Lock()
	if r.released || r.status == player.StatusFailed {
		r.mu.Unlock()
		return
	}
	r.status = player.StatusFailed
	r.statusErr = err
	fns := r.statusObs.snapshot()
	r.mu.Unlock()

	r.logger.Debug("resource failed", slog.String("error", err.Error()))
	for _, fn := range fns {
		fn(player.StatusFailed, err)
	}
}

// housekeep clamps the playhead at end of media for bounded sources and
// delivers the end-of-media notification.
func (r *resource) housekeep() {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		if !r.endlist || !r.playing || r.ended {
			r.mu.Unlock()
			continue
		}
		if r.positionLocked() < r.duration {
			r.mu.Unlock()
			continue
		}
		r.clockBase = r.duration
		r.playing = false
		r.ended = true
		fns := r.endObs.snapshot()
		r.mu.Unlock()

		for _, fn := range fns {
			fn()
		}
	}
}

// refreshLoop polls a live playlist at roughly the target duration,
// reporting sustained fetch failures as buffer-empty and marking the
// resource failed past the error threshold.
func (r *resource) refreshLoop() {
	interval := r.pollInterval()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(interval):
		}

		data, err := r.eng.fetchPlaylist(r.ctx, r.mediaURLValue(), r.isLocal)
		var media *playlist.Media
		if err == nil {
			pl, perr := playlist.Unmarshal(data)
			if perr != nil {
				err = perr
			} else if m, ok := pl.(*playlist.Media); ok {
				media = m
			} else {
				err = errNotMedia
			}
		}

		if err != nil {
			r.mu.Lock()
			if r.released {
				r.mu.Unlock()
				return
			}
			r.errStreak++
			streak := r.errStreak
			fns := r.bufferObs.snapshot()
			r.mu.Unlock()

			r.logger.Debug("playlist refresh failed",
				slog.Int("streak", streak),
				slog.String("error", err.Error()))
			for _, fn := range fns {
				fn(true)
			}
			if streak >= r.eng.cfg.MaxPlaylistErrors {
				r.fail(err)
				return
			}
			continue
		}

		r.mu.Lock()
		if r.released {
			r.mu.Unlock()
			return
		}
		recovered := r.errStreak > 0
		r.errStreak = 0
		r.applyPlaylistLocked(media)
		ended := r.endlist
		var fns []func(bool)
		if recovered {
			fns = r.bufferObs.snapshot()
		}
		r.mu.Unlock()

		for _, fn := range fns {
			fn(false)
		}
		if ended {
			// The stream finished; the housekeeping loop takes over.
			return
		}
		interval = r.pollInterval()
	}
}

func (r *resource) pollInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	interval := r.target
	if interval < r.eng.cfg.MinPollInterval {
		interval = r.eng.cfg.MinPollInterval
	}
	return interval
}

func (r *resource) mediaURLValue() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mediaURL
}

func (r *resource) durationValue() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

func (r *resource) positionLocked() time.Duration {
	pos := r.clockBase
	if r.playing {
		pos += time.Duration(float64(time.Since(r.clockStart)) * r.rate)
	}
	if r.endlist && pos > r.duration {
		pos = r.duration
	}
	return pos
}

// player.Resource implementation.

func (r *resource) Play(rate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.rate = rate
	if r.status != player.StatusReady {
		// Playback starts once the playlist is parsed, which also covers
		// the wait-for-buffer-full option for a headless engine.
		r.pendPlay = true
		return nil
	}
	if r.playing {
		r.clockBase = r.positionLocked()
	}
	r.playing = true
	r.ended = false
	r.clockStart = time.Now()
	return nil
}

func (r *resource) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendPlay = false
	if !r.playing {
		return nil
	}
	r.clockBase = r.positionLocked()
	r.playing = false
	return nil
}

func (r *resource) Seek(target time.Duration, onComplete func(player.SeekResult)) {
	go func() {
		r.mu.Lock()
		completed := false
		if !r.released && r.status == player.StatusReady && r.endlist {
			if target < 0 {
				target = 0
			}
			if target > r.duration {
				target = r.duration
			}
			r.clockBase = target
			if r.playing {
				r.clockStart = time.Now()
			}
			r.ended = false
			completed = true
		}
		r.mu.Unlock()
		if onComplete != nil {
			onComplete(player.SeekResult{Completed: completed})
		}
	}()
}

func (r *resource) SetVolume(float64) error {
	// Headless playback produces no audio output.
	return nil
}

func (r *resource) SetRate(rate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playing {
		r.clockBase = r.positionLocked()
		r.clockStart = time.Now()
	}
	r.rate = rate
	return nil
}

func (r *resource) CurrentTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positionLocked()
}

func (r *resource) MediaDuration() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != player.StatusReady || !r.endlist {
		return 0, false
	}
	return r.duration, true
}

func (r *resource) SeekableRanges() []player.TimeRange {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != player.StatusReady {
		return nil
	}
	return []player.TimeRange{{Start: r.winStart, End: r.winEnd}}
}

func (r *resource) ProgramDateTime() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasBase {
		return time.Time{}, false
	}
	return r.baseTime.Add(r.positionLocked() - r.winStart), true
}

func (r *resource) ObserveTime(interval time.Duration, fn func(time.Duration)) player.Observation {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-r.ctx.Done():
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			active := r.playing && !r.released
			pos := r.positionLocked()
			r.mu.Unlock()
			if active {
				fn(pos)
			}
		}
	}()
	var once sync.Once
	return cancelFunc(func() { once.Do(func() { close(stop) }) })
}

func (r *resource) ObserveStatus(fn func(player.ResourceStatus, error)) player.Observation {
	r.mu.Lock()
	id := r.statusObs.add(fn)
	st, stErr := r.status, r.statusErr
	r.mu.Unlock()
	// Observers registered after readiness was determined still get the
	// transition, delivered asynchronously.
	if st != player.StatusUnknown {
		go fn(st, stErr)
	}
	return cancelFunc(func() {
		r.mu.Lock()
		delete(r.statusObs.fns, id)
		r.mu.Unlock()
	})
}

func (r *resource) ObserveEndOfMedia(fn func()) player.Observation {
	r.mu.Lock()
	id := r.endObs.add(fn)
	r.mu.Unlock()
	return cancelFunc(func() {
		r.mu.Lock()
		delete(r.endObs.fns, id)
		r.mu.Unlock()
	})
}

func (r *resource) ObserveBufferEmpty(fn func(bool)) player.Observation {
	r.mu.Lock()
	id := r.bufferObs.add(fn)
	r.mu.Unlock()
	return cancelFunc(func() {
		r.mu.Lock()
		delete(r.bufferObs.fns, id)
		r.mu.Unlock()
	})
}

func (r *resource) Release() {
	r.mu.Lock()
	r.released = true
	r.playing = false
	r.statusObs.fns = nil
	r.endObs.fns = nil
	r.bufferObs.fns = nil
	r.mu.Unlock()
	r.cancel()
}
