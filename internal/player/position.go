package player

import "time"

// PositionReading is a computed playback position plus the optional absolute
// live timestamp it was derived from.
type PositionReading struct {
	// Elapsed is the position relative to the session's time base.
	Elapsed time.Duration
	// LiveTimestamp is the absolute program time of the current frame,
	// zero when the stream exposes none.
	LiveTimestamp time.Time
}

// ComputePosition derives the reported playback position from the raw engine
// time. programTime carries the engine's absolute program-date-time for the
// current frame when hasProgramTime is true.
//
// Resolution order:
//  1. Host-supplied base time plus engine program-date-time: the position is
//     the distance from the anchor to the absolute frame time. Preferred for
//     streams carrying absolute timestamps.
//  2. Host-supplied elapsed offset: raw time plus the offset, minus the
//     chunk-duration fallback. The subtraction compensates for playlists
//     whose first available position is one chunk past zero; it is a
//     heuristic, not exact.
//  3. Plain on-demand playback: the raw engine time unchanged.
//
// The function is pure; both the periodic tick handler and the direct
// position query use it so polled and on-demand reads cannot diverge.
func ComputePosition(raw time.Duration, programTime time.Time, hasProgramTime bool, live *LiveStreamInfo) time.Duration {
	if live != nil {
		if live.BaseTimeEpochSeconds != nil && hasProgramTime {
			baseMs := *live.BaseTimeEpochSeconds * 1000
			return time.Duration(programTime.UnixMilli()-baseMs) * time.Millisecond
		}
		if live.ElapsedTime != nil {
			return raw + *live.ElapsedTime - live.ChunkDurationFallback
		}
	}
	return raw
}
