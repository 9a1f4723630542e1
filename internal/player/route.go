package player

// PlayingRoute selects the audio output path for a session.
type PlayingRoute string

const (
	// RouteSpeakers plays through the device speakers.
	RouteSpeakers PlayingRoute = "speakers"
	// RouteEarpiece plays through the earpiece.
	RouteEarpiece PlayingRoute = "earpiece"
)

// Valid reports whether the route is one of the known values.
func (r PlayingRoute) Valid() bool {
	return r == RouteSpeakers || r == RouteEarpiece
}

// AudioCategory is the platform audio-session category a route maps to.
type AudioCategory string

const (
	// CategoryPlayback is the default output-only category.
	CategoryPlayback AudioCategory = "playback"
	// CategoryPlayAndRecord enables the earpiece route.
	CategoryPlayAndRecord AudioCategory = "play_and_record"
)

// category returns the audio-session category this route requires.
func (r PlayingRoute) category() AudioCategory {
	if r == RouteEarpiece {
		return CategoryPlayAndRecord
	}
	return CategoryPlayback
}

// AudioRouteConfigurator applies platform audio-session configuration.
// It is invoked on route changes and when the last playing session ends.
type AudioRouteConfigurator interface {
	Configure(category AudioCategory, mixable bool, active bool) error
}

// NopRouteConfigurator ignores all configuration requests. Used when the
// host platform manages its own audio session.
type NopRouteConfigurator struct{}

// Configure implements AudioRouteConfigurator.
func (NopRouteConfigurator) Configure(AudioCategory, bool, bool) error { return nil }
