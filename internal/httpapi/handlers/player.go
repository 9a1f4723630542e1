// Package handlers provides HTTP API handlers for audioplayersd.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gnus-inc/audioplayers/internal/player"
	"github.com/gnus-inc/audioplayers/internal/urlutil"
)

// defaultLoadWait bounds how long a load request blocks waiting for the
// resource to become playable before reporting the in-flight state.
const defaultLoadWait = 10 * time.Second

// PlayerHandler exposes the playback command surface.
type PlayerHandler struct {
	registry *player.Registry
	loadWait time.Duration
	logger   *slog.Logger
}

// NewPlayerHandler creates a player handler.
func NewPlayerHandler(registry *player.Registry, logger *slog.Logger) *PlayerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlayerHandler{
		registry: registry,
		loadWait: defaultLoadWait,
		logger:   logger.With(slog.String("component", "player-api")),
	}
}

// WithLoadWait overrides how long load requests may block for readiness.
func (h *PlayerHandler) WithLoadWait(d time.Duration) *PlayerHandler {
	h.loadWait = d
	return h
}

// PlayerState is the externally visible snapshot of a session.
type PlayerState struct {
	PlayerID  string  `json:"player_id"`
	State     string  `json:"state"`
	SourceURL string  `json:"source_url,omitempty"`
	Seekable  bool    `json:"seekable"`
	Volume    float64 `json:"volume"`
	Rate      float64 `json:"rate"`
	Looping   bool    `json:"looping"`
	Route     string  `json:"route"`
}

func snapshot(s *player.Session) PlayerState {
	p := s.Prefs()
	return PlayerState{
		PlayerID:  s.ID(),
		State:     s.State().String(),
		SourceURL: s.SourceURL(),
		Seekable:  s.Seekable(),
		Volume:    p.Volume,
		Rate:      p.Rate,
		Looping:   p.Looping,
		Route:     string(p.Route),
	}
}

// CommandResult reports whether a command had an effect. Commands that
// need a loaded resource report applied=false instead of failing.
type CommandResult struct {
	Applied bool        `json:"applied"`
	Player  PlayerState `json:"player"`
}

type playerIDInput struct {
	PlayerID string `path:"playerID" maxLength:"128" doc:"Session identifier"`
}

type commandOutput struct {
	Body CommandResult
}

// commandResult maps a session command error to the response. Commands on
// sessions without a loaded resource are no-ops, not failures.
func (h *PlayerHandler) commandResult(id string, err error) (*commandOutput, error) {
	if err != nil && !errors.Is(err, player.ErrNoResource) {
		switch {
		case errors.Is(err, player.ErrMissingParameter),
			errors.Is(err, player.ErrInvalidRoute):
			return nil, huma.Error422UnprocessableEntity(err.Error())
		default:
			return nil, huma.Error500InternalServerError(err.Error())
		}
	}
	out := &commandOutput{}
	out.Body.Applied = err == nil
	out.Body.Player = snapshot(h.registry.GetOrCreate(id))
	return out, nil
}

// Register registers the player routes with the API.
func (h *PlayerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listPlayers",
		Method:      "GET",
		Path:        "/api/v1/players",
		Summary:     "List playback sessions",
		Tags:        []string{"Players"},
	}, h.ListPlayers)

	huma.Register(api, huma.Operation{
		OperationID: "getPlayer",
		Method:      "GET",
		Path:        "/api/v1/players/{playerID}",
		Summary:     "Get a playback session",
		Tags:        []string{"Players"},
	}, h.GetPlayer)

	huma.Register(api, huma.Operation{
		OperationID: "loadSource",
		Method:      "POST",
		Path:        "/api/v1/players/{playerID}/load",
		Summary:     "Load a media source",
		Description: "Prepares the session for the given source. Blocks until the source is playable or the wait budget elapses; a load superseded by a newer one reports ready=false.",
		Tags:        []string{"Players"},
	}, h.LoadSource)

	huma.Register(api, huma.Operation{
		OperationID: "play",
		Method:      "POST",
		Path:        "/api/v1/players/{playerID}/play",
		Summary:     "Start playback",
		Tags:        []string{"Players"},
	}, h.Play)

	huma.Register(api, huma.Operation{
		OperationID: "pause",
		Method:      "POST",
		Path:        "/api/v1/players/{playerID}/pause",
		Summary:     "Pause playback",
		Tags:        []string{"Players"},
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID: "resume",
		Method:      "POST",
		Path:        "/api/v1/players/{playerID}/resume",
		Summary:     "Resume playback",
		Tags:        []string{"Players"},
	}, h.Resume)

	huma.Register(api, huma.Operation{
		OperationID: "stop",
		Method:      "POST",
		Path:        "/api/v1/players/{playerID}/stop",
		Summary:     "Stop playback and detach the source",
		Tags:        []string{"Players"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "releasePlayer",
		Method:      "POST",
		Path:        "/api/v1/players/{playerID}/release",
		Summary:     "Release session resources",
		Description: "Discards the engine resource and observers. The identifier stays addressable; a new load reactivates the session.",
		Tags:        []string{"Players"},
	}, h.Release)

	huma.Register(api, huma.Operation{
		OperationID: "seek",
		Method:      "POST",
		Path:        "/api/v1/players/{playerID}/seek",
		Summary:     "Seek to a position",
		Tags:        []string{"Players"},
	}, h.Seek)

	huma.Register(api, huma.Operation{
		OperationID: "skipForward",
		Method:      "POST",
		Path:        "/api/v1/players/{playerID}/skip-forward",
		Summary:     "Skip forward",
		Tags:        []string{"Players"},
	}, h.SkipForward)

	huma.Register(api, huma.Operation{
		OperationID: "skipBackward",
		Method:      "POST",
		Path:        "/api/v1/players/{playerID}/skip-backward",
		Summary:     "Skip backward",
		Tags:        []string{"Players"},
	}, h.SkipBackward)

	huma.Register(api, huma.Operation{
		OperationID: "setVolume",
		Method:      "PUT",
		Path:        "/api/v1/players/{playerID}/volume",
		Summary:     "Set volume",
		Tags:        []string{"Players"},
	}, h.SetVolume)

	huma.Register(api, huma.Operation{
		OperationID: "setRate",
		Method:      "PUT",
		Path:        "/api/v1/players/{playerID}/rate",
		Summary:     "Set playback rate",
		Tags:        []string{"Players"},
	}, h.SetRate)

	huma.Register(api, huma.Operation{
		OperationID: "setLooping",
		Method:      "PUT",
		Path:        "/api/v1/players/{playerID}/looping",
		Summary:     "Set looping",
		Tags:        []string{"Players"},
	}, h.SetLooping)

	huma.Register(api, huma.Operation{
		OperationID: "setRoute",
		Method:      "PUT",
		Path:        "/api/v1/players/{playerID}/route",
		Summary:     "Set the audio output route",
		Tags:        []string{"Players"},
	}, h.SetRoute)

	huma.Register(api, huma.Operation{
		OperationID: "updateLiveInfo",
		Method:      "PUT",
		Path:        "/api/v1/players/{playerID}/live-info",
		Summary:     "Update live-stream anchors",
		Description: "Updates the live position anchors without reloading the source.",
		Tags:        []string{"Players"},
	}, h.UpdateLiveInfo)

	huma.Register(api, huma.Operation{
		OperationID: "getPosition",
		Method:      "GET",
		Path:        "/api/v1/players/{playerID}/position",
		Summary:     "Get the current playback position",
		Tags:        []string{"Players"},
	}, h.GetPosition)

	huma.Register(api, huma.Operation{
		OperationID: "getDuration",
		Method:      "GET",
		Path:        "/api/v1/players/{playerID}/duration",
		Summary:     "Get the media duration",
		Tags:        []string{"Players"},
	}, h.GetDuration)
}

// ListPlayersOutput lists all known sessions.
type ListPlayersOutput struct {
	Body struct {
		Players []PlayerState `json:"players"`
	}
}

// ListPlayers returns a snapshot of every known session.
func (h *PlayerHandler) ListPlayers(_ context.Context, _ *struct{}) (*ListPlayersOutput, error) {
	out := &ListPlayersOutput{}
	out.Body.Players = []PlayerState{}
	h.registry.ForEach(func(s *player.Session) {
		out.Body.Players = append(out.Body.Players, snapshot(s))
	})
	sort.Slice(out.Body.Players, func(i, j int) bool {
		return out.Body.Players[i].PlayerID < out.Body.Players[j].PlayerID
	})
	return out, nil
}

// GetPlayerOutput is the output for a single-session query.
type GetPlayerOutput struct {
	Body PlayerState
}

// GetPlayer returns the state of one session, creating it on first use.
func (h *PlayerHandler) GetPlayer(_ context.Context, input *playerIDInput) (*GetPlayerOutput, error) {
	return &GetPlayerOutput{Body: snapshot(h.registry.GetOrCreate(input.PlayerID))}, nil
}

// LiveInfoBody carries the live-stream anchors of a load request.
type LiveInfoBody struct {
	BaseTimeEpochSeconds *int64 `json:"base_time_epoch_s,omitempty" doc:"Absolute anchor for live positions"`
	ElapsedMs            *int64 `json:"elapsed_ms,omitempty" doc:"Offset into the stream at load time"`
}

func (l *LiveInfoBody) toLiveInfo() *player.LiveStreamInfo {
	if l == nil {
		return nil
	}
	info := &player.LiveStreamInfo{BaseTimeEpochSeconds: l.BaseTimeEpochSeconds}
	if l.ElapsedMs != nil {
		d := time.Duration(*l.ElapsedMs) * time.Millisecond
		info.ElapsedTime = &d
	}
	return info
}

// LoadSourceInput is the input for loading a source.
type LoadSourceInput struct {
	playerIDInput
	Body struct {
		URL                   string        `json:"url" doc:"Playlist or media URL"`
		IsLocal               bool          `json:"is_local,omitempty" doc:"Treat the URL as a local file path"`
		StartAtMs             *int64        `json:"start_at_ms,omitempty" doc:"Initial position in milliseconds"`
		BufferSeconds         float64       `json:"buffer_seconds,omitempty"`
		TimeOffsetFromLiveMs  int64         `json:"time_offset_from_live_ms,omitempty"`
		FollowLiveWhilePaused bool          `json:"follow_live_while_paused,omitempty"`
		WaitForBufferFull     bool          `json:"wait_for_buffer_full,omitempty"`
		Live                  *LiveInfoBody `json:"live,omitempty"`
	}
}

// LoadSourceOutput reports the load outcome.
type LoadSourceOutput struct {
	Body struct {
		Ready  bool        `json:"ready"`
		Player PlayerState `json:"player"`
	}
}

// LoadSource prepares the session for a source and waits for readiness.
func (h *PlayerHandler) LoadSource(ctx context.Context, input *LoadSourceInput) (*LoadSourceOutput, error) {
	if err := urlutil.ValidateSource(input.Body.URL, input.Body.IsLocal); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	s := h.registry.GetOrCreate(input.PlayerID)

	desc := player.SourceDescriptor{
		URL:                   input.Body.URL,
		IsLocal:               input.Body.IsLocal,
		BufferSeconds:         input.Body.BufferSeconds,
		TimeOffsetFromLive:    time.Duration(input.Body.TimeOffsetFromLiveMs) * time.Millisecond,
		FollowLiveWhilePaused: input.Body.FollowLiveWhilePaused,
		WaitForBufferFull:     input.Body.WaitForBufferFull,
	}
	if input.Body.StartAtMs != nil {
		d := time.Duration(*input.Body.StartAtMs) * time.Millisecond
		desc.StartAt = &d
	}

	ready := make(chan struct{})
	err := s.Load(desc, input.Body.Live.toLiveInfo(), func() { close(ready) })
	if err != nil {
		if errors.Is(err, player.ErrMissingParameter) {
			return nil, huma.Error422UnprocessableEntity("url is required")
		}
		return nil, huma.Error500InternalServerError(err.Error())
	}

	out := &LoadSourceOutput{}
	timer := time.NewTimer(h.loadWait)
	defer timer.Stop()
	select {
	case <-ready:
		out.Body.Ready = true
	case <-ctx.Done():
	case <-timer.C:
		// Still loading, superseded, or failed; the state tells which.
	}
	out.Body.Player = snapshot(s)
	return out, nil
}

// PlayInput is the input for starting playback.
type PlayInput struct {
	playerIDInput
	Body struct {
		Volume     *float64 `json:"volume,omitempty" minimum:"0" maximum:"1"`
		PositionMs *int64   `json:"position_ms,omitempty" doc:"Seek here before starting"`
	}
}

// Play starts playback.
func (h *PlayerHandler) Play(_ context.Context, input *PlayInput) (*commandOutput, error) {
	s := h.registry.GetOrCreate(input.PlayerID)
	var startAt *time.Duration
	if input.Body.PositionMs != nil {
		d := time.Duration(*input.Body.PositionMs) * time.Millisecond
		startAt = &d
	}
	return h.commandResult(input.PlayerID, s.Play(input.Body.Volume, startAt))
}

// Pause pauses playback.
func (h *PlayerHandler) Pause(_ context.Context, input *playerIDInput) (*commandOutput, error) {
	return h.commandResult(input.PlayerID, h.registry.GetOrCreate(input.PlayerID).Pause())
}

// Resume resumes playback without reloading.
func (h *PlayerHandler) Resume(_ context.Context, input *playerIDInput) (*commandOutput, error) {
	return h.commandResult(input.PlayerID, h.registry.GetOrCreate(input.PlayerID).Resume())
}

// Stop stops playback and detaches the source.
func (h *PlayerHandler) Stop(_ context.Context, input *playerIDInput) (*commandOutput, error) {
	return h.commandResult(input.PlayerID, h.registry.GetOrCreate(input.PlayerID).Stop())
}

// Release discards the session's engine resource and observers.
func (h *PlayerHandler) Release(_ context.Context, input *playerIDInput) (*commandOutput, error) {
	return h.commandResult(input.PlayerID, h.registry.GetOrCreate(input.PlayerID).Release())
}

// SeekInput is the input for seeking.
type SeekInput struct {
	playerIDInput
	Body struct {
		PositionMs int64 `json:"position_ms" minimum:"0"`
	}
}

// Seek requests a seek; completion is reported through the event stream.
func (h *PlayerHandler) Seek(_ context.Context, input *SeekInput) (*commandOutput, error) {
	s := h.registry.GetOrCreate(input.PlayerID)
	return h.commandResult(input.PlayerID,
		s.Seek(time.Duration(input.Body.PositionMs)*time.Millisecond))
}

// SkipInput is the input for relative seeks.
type SkipInput struct {
	playerIDInput
	Body struct {
		IntervalMs int64 `json:"interval_ms" minimum:"1"`
	}
}

// SkipForward seeks ahead, clamped to the media duration.
func (h *PlayerHandler) SkipForward(_ context.Context, input *SkipInput) (*commandOutput, error) {
	s := h.registry.GetOrCreate(input.PlayerID)
	return h.commandResult(input.PlayerID,
		s.SkipForward(time.Duration(input.Body.IntervalMs)*time.Millisecond))
}

// SkipBackward seeks back, clamped to zero.
func (h *PlayerHandler) SkipBackward(_ context.Context, input *SkipInput) (*commandOutput, error) {
	s := h.registry.GetOrCreate(input.PlayerID)
	return h.commandResult(input.PlayerID,
		s.SkipBackward(time.Duration(input.Body.IntervalMs)*time.Millisecond))
}

// SetVolumeInput is the input for setting the volume.
type SetVolumeInput struct {
	playerIDInput
	Body struct {
		Volume float64 `json:"volume" minimum:"0" maximum:"1"`
	}
}

// SetVolume sets the session volume.
func (h *PlayerHandler) SetVolume(_ context.Context, input *SetVolumeInput) (*commandOutput, error) {
	return h.commandResult(input.PlayerID,
		h.registry.GetOrCreate(input.PlayerID).SetVolume(input.Body.Volume))
}

// SetRateInput is the input for setting the playback rate.
type SetRateInput struct {
	playerIDInput
	Body struct {
		Rate float64 `json:"rate" minimum:"0.25" maximum:"4"`
	}
}

// SetRate sets the playback rate.
func (h *PlayerHandler) SetRate(_ context.Context, input *SetRateInput) (*commandOutput, error) {
	return h.commandResult(input.PlayerID,
		h.registry.GetOrCreate(input.PlayerID).SetPlaybackRate(input.Body.Rate))
}

// SetLoopingInput is the input for setting looping.
type SetLoopingInput struct {
	playerIDInput
	Body struct {
		Looping bool `json:"looping"`
	}
}

// SetLooping sets whether playback restarts at end of media.
func (h *PlayerHandler) SetLooping(_ context.Context, input *SetLoopingInput) (*commandOutput, error) {
	return h.commandResult(input.PlayerID,
		h.registry.GetOrCreate(input.PlayerID).SetLooping(input.Body.Looping))
}

// SetRouteInput is the input for setting the audio route.
type SetRouteInput struct {
	playerIDInput
	Body struct {
		Route string `json:"route" enum:"speakers,earpiece"`
	}
}

// SetRoute switches the audio output route.
func (h *PlayerHandler) SetRoute(_ context.Context, input *SetRouteInput) (*commandOutput, error) {
	return h.commandResult(input.PlayerID,
		h.registry.GetOrCreate(input.PlayerID).SetPlayingRoute(player.PlayingRoute(input.Body.Route)))
}

// UpdateLiveInfoInput is the input for updating live anchors.
type UpdateLiveInfoInput struct {
	playerIDInput
	Body LiveInfoBody
}

// UpdateLiveInfo updates the live position anchors without reloading.
func (h *PlayerHandler) UpdateLiveInfo(_ context.Context, input *UpdateLiveInfoInput) (*commandOutput, error) {
	s := h.registry.GetOrCreate(input.PlayerID)
	var elapsed *time.Duration
	if input.Body.ElapsedMs != nil {
		d := time.Duration(*input.Body.ElapsedMs) * time.Millisecond
		elapsed = &d
	}
	return h.commandResult(input.PlayerID,
		s.UpdateLiveInfo(input.Body.BaseTimeEpochSeconds, elapsed))
}

// PositionOutput is the output for a position query.
type PositionOutput struct {
	Body struct {
		Known           bool   `json:"known"`
		PositionMs      int64  `json:"position_ms"`
		LiveTimestampMs *int64 `json:"live_timestamp_ms,omitempty"`
	}
}

// GetPosition returns the computed playback position.
func (h *PlayerHandler) GetPosition(_ context.Context, input *playerIDInput) (*PositionOutput, error) {
	out := &PositionOutput{}
	reading, ok := h.registry.GetOrCreate(input.PlayerID).Position()
	if !ok {
		return out, nil
	}
	out.Body.Known = true
	out.Body.PositionMs = reading.Elapsed.Milliseconds()
	if !reading.LiveTimestamp.IsZero() {
		ms := reading.LiveTimestamp.UnixMilli()
		out.Body.LiveTimestampMs = &ms
	}
	return out, nil
}

// DurationOutput is the output for a duration query.
type DurationOutput struct {
	Body struct {
		Known      bool  `json:"known"`
		DurationMs int64 `json:"duration_ms"`
	}
}

// GetDuration returns the media duration when known.
func (h *PlayerHandler) GetDuration(_ context.Context, input *playerIDInput) (*DurationOutput, error) {
	out := &DurationOutput{}
	d, ok := h.registry.GetOrCreate(input.PlayerID).Duration()
	if ok {
		out.Body.Known = true
		out.Body.DurationMs = d.Milliseconds()
	}
	return out, nil
}
