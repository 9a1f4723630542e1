package player

import (
	"context"
	"time"
)

// ResourceStatus is the readiness state the engine reports for a resource.
type ResourceStatus int

const (
	// StatusUnknown means the engine has not yet determined readiness.
	StatusUnknown ResourceStatus = iota
	// StatusReady means the resource is playable.
	StatusReady
	// StatusFailed means the resource cannot be played.
	StatusFailed
)

func (s ResourceStatus) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TimeRange is a half-open interval of playable media time.
type TimeRange struct {
	Start time.Duration
	End   time.Duration
}

// Duration returns the length of the range.
func (r TimeRange) Duration() time.Duration { return r.End - r.Start }

// LoadOptions carries per-load engine hints taken from the source descriptor.
type LoadOptions struct {
	// StartAt positions the resource before it produces any frames.
	StartAt time.Duration
	// BufferSeconds is the preferred forward buffer, zero for engine default.
	BufferSeconds float64
	// TimeOffsetFromLive is the preferred distance behind the live edge.
	TimeOffsetFromLive time.Duration
	// FollowLiveWhilePaused keeps tracking the live edge during pauses.
	FollowLiveWhilePaused bool
	// WaitForBufferFull delays playback start until the engine considers
	// the buffer sufficient. Gating is the engine's responsibility.
	WaitForBufferFull bool
}

// SeekResult describes the outcome of an asynchronous seek.
type SeekResult struct {
	// Completed is true when the seek finished at the requested time.
	Completed bool
	// AutoResumed is true when the engine resumed playback as a side
	// effect of the seek. The session corrects its reported state.
	AutoResumed bool
}

// Observation is a cancellable subscription to an engine callback.
// Cancel is idempotent; after Cancel returns no further callbacks fire.
type Observation interface {
	Cancel()
}

// Resource is one engine-level player/decoder instance. All callbacks may be
// delivered from engine-internal goroutines and are never synchronous with
// the registering call; callers marshal them onto their own serialization
// point before touching shared state.
type Resource interface {
	// Play starts or resumes playback at the given rate.
	Play(rate float64) error
	// Pause suspends playback. Idempotent.
	Pause() error
	// Seek repositions playback and invokes onComplete asynchronously.
	Seek(target time.Duration, onComplete func(SeekResult))
	// SetVolume sets the output volume in [0, 1].
	SetVolume(v float64) error
	// SetRate sets the playback rate without starting playback.
	SetRate(rate float64) error

	// CurrentTime returns the raw engine position.
	CurrentTime() time.Duration
	// MediaDuration returns the media duration; ok is false while unknown
	// or when the source has indefinite (live) duration.
	MediaDuration() (d time.Duration, ok bool)
	// SeekableRanges returns the currently seekable media intervals.
	SeekableRanges() []TimeRange
	// ProgramDateTime returns the absolute wall-clock time of the current
	// playback position, when the stream format provides one.
	ProgramDateTime() (t time.Time, ok bool)

	// ObserveTime delivers the raw position at roughly the given interval
	// while playback progresses.
	ObserveTime(interval time.Duration, fn func(t time.Duration)) Observation
	// ObserveStatus delivers readiness transitions. err is non-nil only
	// with StatusFailed.
	ObserveStatus(fn func(st ResourceStatus, err error)) Observation
	// ObserveEndOfMedia delivers end-of-media once per natural completion.
	ObserveEndOfMedia(fn func()) Observation
	// ObserveBufferEmpty delivers transitions of the buffer-empty flag.
	ObserveBufferEmpty(fn func(empty bool)) Observation

	// Release frees decode and network state. The resource must not be
	// used afterwards. Observations not yet cancelled stop firing.
	Release()
}

// Engine constructs playback resources. Implementations return quickly;
// readiness is reported through the resource's status observation.
type Engine interface {
	Load(ctx context.Context, url string, isLocal bool, opts LoadOptions) (Resource, error)
}
