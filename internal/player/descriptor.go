package player

import "time"

// SourceDescriptor describes the media source a load command refers to.
// It is consumed by Load and not retained.
type SourceDescriptor struct {
	URL     string
	IsLocal bool

	// StartAt is the optional initial position; nil means start at zero.
	StartAt *time.Duration

	// BufferSeconds is the preferred forward buffer, zero for engine default.
	BufferSeconds float64
	// TimeOffsetFromLive is the preferred distance behind the live edge.
	TimeOffsetFromLive time.Duration
	// FollowLiveWhilePaused keeps tracking the live edge during pauses.
	FollowLiveWhilePaused bool
	// WaitForBufferFull delays playback until the engine reports a full buffer.
	WaitForBufferFull bool
}

func (d SourceDescriptor) loadOptions() LoadOptions {
	opts := LoadOptions{
		BufferSeconds:         d.BufferSeconds,
		TimeOffsetFromLive:    d.TimeOffsetFromLive,
		FollowLiveWhilePaused: d.FollowLiveWhilePaused,
		WaitForBufferFull:     d.WaitForBufferFull,
	}
	if d.StartAt != nil {
		opts.StartAt = *d.StartAt
	}
	return opts
}

// LiveStreamInfo holds the host-supplied parameters for treating the current
// source as a live stream, plus the heuristic chunk-duration fallback derived
// once the engine becomes ready. It is replaced wholesale on each load.
type LiveStreamInfo struct {
	// BaseTimeEpochSeconds anchors live positions to an absolute program time.
	BaseTimeEpochSeconds *int64
	// ElapsedTime is the host-supplied offset into the stream at load time,
	// used when the engine cannot expose absolute time.
	ElapsedTime *time.Duration
	// ChunkDurationFallback approximates the offset of the first available
	// playlist position. Derived from the first observed seekable range when
	// no absolute program time is available; zero until derived.
	ChunkDurationFallback time.Duration
}

// Clone returns a deep copy so a session can retain host-supplied values
// without aliasing caller memory.
func (l *LiveStreamInfo) Clone() *LiveStreamInfo {
	if l == nil {
		return nil
	}
	out := &LiveStreamInfo{ChunkDurationFallback: l.ChunkDurationFallback}
	if l.BaseTimeEpochSeconds != nil {
		v := *l.BaseTimeEpochSeconds
		out.BaseTimeEpochSeconds = &v
	}
	if l.ElapsedTime != nil {
		v := *l.ElapsedTime
		out.ElapsedTime = &v
	}
	return out
}
