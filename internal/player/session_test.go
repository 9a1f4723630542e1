package player_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnus-inc/audioplayers/internal/player"
	"github.com/gnus-inc/audioplayers/internal/player/playertest"
)

type fixture struct {
	reg  *player.Registry
	eng  *playertest.Engine
	sink *playertest.Sink
}

func newFixture(opts ...player.RegistryOption) *fixture {
	eng := playertest.NewEngine()
	sink := playertest.NewSink()
	all := append([]player.RegistryOption{
		player.WithSink(sink),
		player.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return &fixture{reg: player.NewRegistry(eng, all...), eng: eng, sink: sink}
}

// loadReady loads url into a fresh or existing session and drives the
// resource to ready with a 60s known duration.
func (f *fixture) loadReady(t *testing.T, id, url string) (*player.Session, *playertest.Resource) {
	t.Helper()
	s := f.reg.GetOrCreate(id)
	require.NoError(t, s.Load(player.SourceDescriptor{URL: url}, nil, nil))
	res := f.eng.LastResource()
	require.NotNil(t, res)
	res.SetDuration(60 * time.Second)
	res.SetReady()
	require.Equal(t, player.StateReady, s.State())
	return s, res
}

func durPtr(d time.Duration) *time.Duration { return &d }

func TestLoadLifecycle(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")
	assert.Equal(t, player.StateIdle, s.State())

	readyCalls := 0
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/a.m3u8"}, nil, func() {
		readyCalls++
	}))
	assert.Equal(t, player.StateLoading, s.State())
	assert.Equal(t, 0, readyCalls, "continuation must wait for readiness")

	res := f.eng.LastResource()
	require.NotNil(t, res)
	assert.Equal(t, 4, res.ActiveObservations())

	res.SetDuration(90 * time.Second)
	res.SetReady()

	assert.Equal(t, player.StateReady, s.State())
	assert.Equal(t, 1, readyCalls)

	d, ok := s.Duration()
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, d)
	assert.True(t, s.Seekable())

	durEvents := f.sink.OfType(player.EventDuration)
	require.Len(t, durEvents, 1)
	assert.Equal(t, int64(90_000), *durEvents[0].DurationMs)

	seekableEvents := f.sink.OfType(player.EventSeekable)
	require.Len(t, seekableEvents, 1)
	assert.True(t, *seekableEvents[0].Seekable)

	// Duplicate ready transitions for the same resource are no-ops.
	res.SetReady()
	assert.Equal(t, player.StateReady, s.State())
	assert.Equal(t, 1, readyCalls)
}

func TestLoadMissingURL(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")
	err := s.Load(player.SourceDescriptor{}, nil, nil)
	assert.ErrorIs(t, err, player.ErrMissingParameter)
}

func TestLoadSupersession(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")

	first, second := 0, 0
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/a.m3u8"}, nil, func() { first++ }))
	resA := f.eng.LastResource()

	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/b.m3u8"}, nil, func() { second++ }))
	resB := f.eng.LastResource()
	require.NotSame(t, resA, resB)

	assert.True(t, resA.Released(), "superseded resource must be released")
	assert.Equal(t, 0, resA.ActiveObservations(), "superseded observers must be cancelled")

	// A late ready from the old resource must not leak through.
	resA.SetReady()
	assert.Equal(t, player.StateLoading, s.State())
	assert.Equal(t, 0, first)

	resB.SetDuration(30 * time.Second)
	resB.SetReady()
	assert.Equal(t, player.StateReady, s.State())
	assert.Equal(t, 0, first, "superseded continuation must never run")
	assert.Equal(t, 1, second)
}

func TestLoadSameURLWhileLoadingReplacesContinuation(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")

	first, second := 0, 0
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/a.m3u8"}, nil, func() { first++ }))
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/a.m3u8"}, nil, func() { second++ }))

	assert.Equal(t, 1, f.eng.Loads(), "same-URL load while loading must not recreate the resource")

	f.eng.LastResource().SetReady()
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestLoadSameURLWhileReadyIsCheapRefresh(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")

	calls := 0
	require.NoError(t, s.Load(player.SourceDescriptor{
		URL:     "https://cdn.example/a.m3u8",
		StartAt: durPtr(12 * time.Second),
	}, nil, func() { calls++ }))

	assert.Equal(t, 1, f.eng.Loads(), "refresh must reuse the resource")
	assert.Equal(t, 1, calls, "refresh continuation runs without waiting for readiness")
	assert.Equal(t, []time.Duration{12 * time.Second}, res.SeekTargets())
	assert.Equal(t, player.StateReady, s.State())
}

func TestLoadEngineFailureReportsEvent(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")
	f.eng.FailNextLoad(errors.New("dns lookup failed"))

	calls := 0
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/a.m3u8"}, nil, func() { calls++ }))

	assert.Equal(t, player.StateFailed, s.State())
	assert.Equal(t, 0, calls)
	errEvents := f.sink.OfType(player.EventError)
	require.Len(t, errEvents, 1)
	assert.Contains(t, errEvents[0].Message, "dns lookup failed")
}

func TestResourceFailureThenReload(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")

	calls := 0
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/a.m3u8"}, nil, func() { calls++ }))
	f.eng.LastResource().FailLoad(errors.New("manifest 404"))

	assert.Equal(t, player.StateFailed, s.State())
	assert.Equal(t, 0, calls, "failed load must leave the continuation unresolved")
	errEvents := f.sink.OfType(player.EventError)
	require.Len(t, errEvents, 1)
	assert.Contains(t, errEvents[0].Message, "manifest 404")

	// Reloading the same URL after a failure recreates the resource.
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/a.m3u8"}, nil, func() { calls++ }))
	assert.Equal(t, 2, f.eng.Loads())
	f.eng.LastResource().SetReady()
	assert.Equal(t, player.StateReady, s.State())
	assert.Equal(t, 1, calls)
}

func TestPlayPauseResumeStop(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")

	require.NoError(t, s.Play(nil, nil))
	assert.Equal(t, player.StatePlaying, s.State())
	assert.True(t, res.Playing())

	require.NoError(t, s.Pause())
	assert.Equal(t, player.StatePaused, s.State())
	assert.False(t, res.Playing())

	require.NoError(t, s.Resume())
	assert.Equal(t, player.StatePlaying, s.State())
	assert.True(t, res.Playing())

	require.NoError(t, s.Stop())
	assert.Equal(t, player.StateStopped, s.State())
	assert.True(t, res.Released())
	assert.Equal(t, 0, res.ActiveObservations())
	assert.Empty(t, s.SourceURL())
}

func TestPlayAppliesVolumeAndStartAt(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")

	vol := 0.4
	require.NoError(t, s.Play(&vol, durPtr(9*time.Second)))
	assert.Equal(t, 0.4, res.Volume())
	assert.Equal(t, []time.Duration{9 * time.Second}, res.SeekTargets())
	assert.Equal(t, player.StatePlaying, s.State())
}

func TestPlayBeforeReadyStillDeliversReadiness(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")

	readyCalls := 0
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/a.m3u8"}, nil, func() {
		readyCalls++
	}))
	res := f.eng.LastResource()
	require.NotNil(t, res)
	res.SetDuration(90 * time.Second)

	require.NoError(t, s.Play(nil, nil))
	assert.Equal(t, player.StatePlaying, s.State())
	assert.Equal(t, 0, readyCalls, "continuation must wait for readiness")

	res.SetReady()

	assert.Equal(t, player.StatePlaying, s.State(), "readiness must not demote an already playing session")
	assert.Equal(t, 1, readyCalls)
	d, ok := s.Duration()
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, d)
	assert.True(t, s.Seekable())
	assert.Len(t, f.sink.OfType(player.EventDuration), 1)
	assert.Len(t, f.sink.OfType(player.EventSeekable), 1)

	// A repeated ready report for the same resource changes nothing.
	res.SetReady()
	assert.Equal(t, 1, readyCalls)
	assert.Len(t, f.sink.OfType(player.EventDuration), 1)
}

func TestPlayWithoutResource(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")
	assert.ErrorIs(t, s.Play(nil, nil), player.ErrNoResource)
	assert.Equal(t, player.StateIdle, s.State())
}

func TestPauseIsIdempotent(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")

	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause())
	assert.Equal(t, player.StatePaused, s.State())
	assert.Equal(t, 2, res.PauseCalls())

	require.NoError(t, s.Pause())
	assert.Equal(t, player.StatePaused, s.State())
}

func TestReleaseIsReversible(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.Play(nil, nil))

	require.NoError(t, s.Release())
	assert.Equal(t, player.StateReleased, s.State())
	assert.True(t, res.Released())
	assert.Equal(t, 0, res.ActiveObservations())

	// The identifier stays usable; a new load reactivates the session.
	s2, res2 := f.loadReady(t, "p1", "https://cdn.example/b.m3u8")
	assert.Same(t, s, s2)
	require.NoError(t, s2.Play(nil, nil))
	assert.Equal(t, player.StatePlaying, s2.State())
	assert.True(t, res2.Playing())
}

func TestSeekEmitsCompletion(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.Pause())

	require.NoError(t, s.Seek(20*time.Second))
	assert.Equal(t, 1, res.PendingSeeks())

	res.CompleteSeek(player.SeekResult{Completed: true})

	events := f.sink.OfType(player.EventSeekComplete)
	require.Len(t, events, 1)
	assert.True(t, *events[0].Success)
	assert.Equal(t, player.StatePaused, s.State(), "seek alone must not change state")
}

func TestSeekAutoResumeCorrection(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.Play(nil, nil))
	require.NoError(t, s.Pause())

	require.NoError(t, s.Seek(20*time.Second))
	res.CompleteSeek(player.SeekResult{Completed: true, AutoResumed: true})

	assert.Equal(t, player.StatePlaying, s.State(),
		"reported state follows the engine when it resumes on seek")
}

func TestSeekWithoutResource(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")
	assert.ErrorIs(t, s.Seek(time.Second), player.ErrNoResource)
}

func TestSkipClamping(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")

	res.SetCurrentTime(55 * time.Second)
	require.NoError(t, s.SkipForward(10*time.Second))

	res.SetCurrentTime(3 * time.Second)
	require.NoError(t, s.SkipBackward(5*time.Second))

	assert.Equal(t, []time.Duration{60 * time.Second, 0}, res.SeekTargets())
}

func TestSkipWithoutDurationIsNoop(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/live.m3u8"}, nil, nil))
	res := f.eng.LastResource()
	res.SetReady() // no duration scripted: live source

	require.NoError(t, s.SkipForward(10*time.Second))
	require.NoError(t, s.SkipBackward(10*time.Second))
	assert.Empty(t, res.SeekTargets())
	assert.False(t, s.Seekable())
}

func TestEndOfMediaPausesAndReports(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.Play(nil, nil))

	res.EmitEndOfMedia()

	assert.Equal(t, player.StatePaused, s.State())
	assert.False(t, res.Playing())
	assert.Len(t, f.sink.OfType(player.EventComplete), 1)
}

func TestEndOfMediaLoopsWhenLooping(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.SetLooping(true))
	require.NoError(t, s.Play(nil, nil))

	res.EmitEndOfMedia()

	assert.Equal(t, player.StatePlaying, s.State())
	assert.True(t, res.Playing())
	assert.Equal(t, []time.Duration{0}, res.SeekTargets())
	assert.Len(t, f.sink.OfType(player.EventComplete), 1)
}

func TestEndOfMediaIgnoredWhenNotPlaying(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.Pause())

	res.EmitEndOfMedia()

	assert.Equal(t, player.StatePaused, s.State())
	assert.Empty(t, f.sink.OfType(player.EventComplete))
}

func TestStaleTicksDropped(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/a.m3u8"}, nil, nil))
	resA := f.eng.LastResource()
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/b.m3u8"}, nil, nil))

	resA.EmitTime(5 * time.Second)
	assert.Empty(t, f.sink.OfType(player.EventPosition),
		"ticks from a superseded resource must not surface")
}

func TestPositionTicksForward(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.Play(nil, nil))

	res.EmitTime(1 * time.Second)
	res.EmitTime(1200 * time.Millisecond)

	events := f.sink.OfType(player.EventPosition)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1000), *events[0].PositionMs)
	assert.Equal(t, int64(1200), *events[1].PositionMs)
	assert.Nil(t, events[0].LiveTimestampMs)

	reading, ok := s.Position()
	require.True(t, ok)
	assert.Equal(t, 1200*time.Millisecond, reading.Elapsed)
}

func TestLivePositionWithBaseTime(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")

	base := int64(1_700_000_000)
	live := &player.LiveStreamInfo{BaseTimeEpochSeconds: &base}
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/live.m3u8"}, live, nil))

	res := f.eng.LastResource()
	res.SetProgramDateTime(time.UnixMilli(base*1000 + 42_000))
	res.SetReady()
	require.NoError(t, s.Play(nil, nil))

	res.EmitTime(5 * time.Second)

	events := f.sink.OfType(player.EventPosition)
	require.Len(t, events, 1)
	assert.Equal(t, int64(42_000), *events[0].PositionMs)
	require.NotNil(t, events[0].LiveTimestampMs)
	assert.Equal(t, base*1000+42_000, *events[0].LiveTimestampMs)

	reading, ok := s.Position()
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, reading.Elapsed)
	assert.Equal(t, time.UnixMilli(base*1000+42_000), reading.LiveTimestamp)
}

func TestChunkFallbackDerivedOnReady(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")

	elapsed := 30 * time.Second
	live := &player.LiveStreamInfo{ElapsedTime: &elapsed}
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/live.m3u8"}, live, nil))

	res := f.eng.LastResource()
	res.SetSeekableRanges(player.TimeRange{Start: 6 * time.Second, End: 60 * time.Second})
	res.SetReady() // no program date time: heuristic path
	require.NoError(t, s.Play(nil, nil))

	res.EmitTime(4 * time.Second)

	events := f.sink.OfType(player.EventPosition)
	require.Len(t, events, 1)
	// raw 4s + elapsed 30s - first range start 6s
	assert.Equal(t, int64(28_000), *events[0].PositionMs)
}

func TestUpdateLiveInfoWithoutReload(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")

	elapsed := 10 * time.Second
	live := &player.LiveStreamInfo{ElapsedTime: &elapsed}
	require.NoError(t, s.Load(player.SourceDescriptor{URL: "https://cdn.example/live.m3u8"}, live, nil))
	res := f.eng.LastResource()
	res.SetSeekableRanges(player.TimeRange{Start: 2 * time.Second, End: 40 * time.Second})
	res.SetReady()
	require.NoError(t, s.Play(nil, nil))

	newElapsed := 50 * time.Second
	require.NoError(t, s.UpdateLiveInfo(nil, &newElapsed))
	assert.Equal(t, 1, f.eng.Loads())

	res.EmitTime(4 * time.Second)
	events := f.sink.OfType(player.EventPosition)
	require.Len(t, events, 1)
	// raw 4s + updated elapsed 50s - retained fallback 2s
	assert.Equal(t, int64(52_000), *events[0].PositionMs)
}

func TestStallReportedAfterGrace(t *testing.T) {
	cfg := player.DefaultSessionConfig()
	cfg.StallGracePeriod = 20 * time.Millisecond
	f := newFixture(player.WithSessionConfig(cfg))

	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.Play(nil, nil))

	res.EmitBufferEmpty(true)

	require.Eventually(t, func() bool {
		return len(f.sink.OfType(player.EventError)) == 1
	}, time.Second, 5*time.Millisecond)

	events := f.sink.OfType(player.EventError)
	assert.Contains(t, events[0].Message, "stalled")
	assert.Equal(t, player.StatePlaying, s.State(), "stall report must not change state")

	// A single arming reports at most once.
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, f.sink.OfType(player.EventError), 1)
}

func TestStallSuppressedWhenBufferRefills(t *testing.T) {
	cfg := player.DefaultSessionConfig()
	cfg.StallGracePeriod = 40 * time.Millisecond
	f := newFixture(player.WithSessionConfig(cfg))

	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.Play(nil, nil))

	res.EmitBufferEmpty(true)
	res.EmitBufferEmpty(false)

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, f.sink.OfType(player.EventError))
}

func TestStallSuppressedAfterStop(t *testing.T) {
	cfg := player.DefaultSessionConfig()
	cfg.StallGracePeriod = 40 * time.Millisecond
	f := newFixture(player.WithSessionConfig(cfg))

	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.Play(nil, nil))

	res.EmitBufferEmpty(true)
	require.NoError(t, s.Stop())

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, f.sink.OfType(player.EventError))
}

func TestVolumeClampedAndRetainedAcrossLoads(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")

	require.NoError(t, s.SetVolume(1.7))
	assert.Equal(t, 1.0, res.Volume())
	require.NoError(t, s.SetVolume(0.3))
	assert.Equal(t, 0.3, res.Volume())

	// Attributes survive a reload to a different source.
	_, res2 := f.loadReady(t, "p1", "https://cdn.example/b.m3u8")
	assert.Equal(t, 0.3, res2.Volume())
	assert.Equal(t, 0.3, s.Prefs().Volume)
}

func TestSetPlaybackRateEmitsPositionRefresh(t *testing.T) {
	f := newFixture()
	s, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	res.SetCurrentTime(15 * time.Second)

	require.NoError(t, s.SetPlaybackRate(1.5))

	assert.Equal(t, 1.5, res.Rate())
	events := f.sink.OfType(player.EventPosition)
	require.Len(t, events, 1, "rate change reports the position out of band")
	assert.Equal(t, int64(15_000), *events[0].PositionMs)
}

func TestRateAppliedOnPlay(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")
	require.NoError(t, s.SetPlaybackRate(2.0))

	_, res := f.loadReady(t, "p1", "https://cdn.example/a.m3u8")
	require.NoError(t, s.Play(nil, nil))
	assert.Equal(t, 2.0, res.Rate())
}

func TestSetPlayingRouteValidation(t *testing.T) {
	f := newFixture()
	s := f.reg.GetOrCreate("p1")

	assert.ErrorIs(t, s.SetPlayingRoute("bluetooth"), player.ErrInvalidRoute)
	require.NoError(t, s.SetPlayingRoute(player.RouteEarpiece))
	assert.Equal(t, player.RouteEarpiece, s.Prefs().Route)
}
