package player

import "errors"

// ErrLoadFailed is reported when the engine marks a resource as failed.
var ErrLoadFailed = errors.New("resource failed to load")

// ErrBufferingStall is reported when buffering stays empty past the grace period.
var ErrBufferingStall = errors.New("playback stalled: buffer empty past grace period")

// ErrMissingParameter is returned when a required command argument is absent.
var ErrMissingParameter = errors.New("missing required parameter")

// ErrInvalidRoute is returned for an unrecognized playing route value.
var ErrInvalidRoute = errors.New("invalid playing route")

// ErrNoResource is returned by operations that need a loaded resource.
// Callers treat it as an empty result rather than a failure.
var ErrNoResource = errors.New("no resource loaded")
