package player

// EventType identifies the kind of event a session emits.
type EventType string

const (
	// EventDuration reports the media duration once it becomes known.
	EventDuration EventType = "duration"
	// EventPosition reports the current playback position.
	EventPosition EventType = "position"
	// EventComplete reports that playback reached end of media.
	EventComplete EventType = "complete"
	// EventSeekComplete reports the outcome of a seek request.
	EventSeekComplete EventType = "seek_complete"
	// EventSeekable reports whether the current source is seekable.
	EventSeekable EventType = "seekable"
	// EventError reports a non-fatal or fatal playback error.
	EventError EventType = "error"
)

// Event is a single fire-and-forget notification for a session.
// Only the fields relevant to the Type are populated.
type Event struct {
	PlayerID string    `json:"player_id"`
	Type     EventType `json:"type"`

	// DurationMs is set for EventDuration.
	DurationMs *int64 `json:"duration_ms,omitempty"`
	// PositionMs is set for EventPosition.
	PositionMs *int64 `json:"position_ms,omitempty"`
	// LiveTimestampMs carries the absolute program time in epoch milliseconds
	// for live streams that expose one. Set for EventPosition only.
	LiveTimestampMs *int64 `json:"live_timestamp_ms,omitempty"`
	// Success is set for EventSeekComplete.
	Success *bool `json:"success,omitempty"`
	// Seekable is set for EventSeekable.
	Seekable *bool `json:"seekable,omitempty"`
	// Message is set for EventError.
	Message string `json:"message,omitempty"`
}

// Sink receives session events. Delivery is fire-and-forget; per-session
// ordering must match emission order, cross-session ordering is unspecified.
type Sink interface {
	Publish(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(Event) {}

func durationEvent(id string, ms int64) Event {
	return Event{PlayerID: id, Type: EventDuration, DurationMs: &ms}
}

func positionEvent(id string, ms int64, liveTimestampMs *int64) Event {
	return Event{PlayerID: id, Type: EventPosition, PositionMs: &ms, LiveTimestampMs: liveTimestampMs}
}

func completeEvent(id string) Event {
	return Event{PlayerID: id, Type: EventComplete}
}

func seekCompleteEvent(id string, success bool) Event {
	return Event{PlayerID: id, Type: EventSeekComplete, Success: &success}
}

func seekableEvent(id string, seekable bool) Event {
	return Event{PlayerID: id, Type: EventSeekable, Seekable: &seekable}
}

func errorEvent(id string, msg string) Event {
	return Event{PlayerID: id, Type: EventError, Message: msg}
}
