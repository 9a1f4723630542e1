// Package hls implements a headless playback engine for HLS sources. It
// fetches and parses playlists, selects a variant, and paces a playback
// clock over the parsed timeline. No media segments are decoded; the engine
// exposes accurate timing, duration, and program-date-time information for
// the session layer.
package hls

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/gnus-inc/audioplayers/internal/player"
	"github.com/gnus-inc/audioplayers/internal/urlutil"
)

// Config holds tunables for playlist fetching and live refresh.
type Config struct {
	// PlaylistTimeout is the timeout for a single playlist fetch.
	PlaylistTimeout time.Duration
	// MaxPlaylistBytes is the maximum playlist size to fetch.
	MaxPlaylistBytes int
	// MaxPlaylistErrors is the consecutive refresh failures tolerated
	// before a live resource is marked failed.
	MaxPlaylistErrors int
	// MinPollInterval is the minimum time between live playlist refreshes.
	MinPollInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PlaylistTimeout:   5 * time.Second,
		MaxPlaylistBytes:  256 * 1024,
		MaxPlaylistErrors: 6,
		MinPollInterval:   800 * time.Millisecond,
	}
}

// Engine creates headless HLS playback resources.
type Engine struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the HTTP client used for playlist fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) { e.client = client }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an HLS engine.
func New(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.PlaylistTimeout <= 0 {
		cfg.PlaylistTimeout = def.PlaylistTimeout
	}
	if cfg.MaxPlaylistBytes <= 0 {
		cfg.MaxPlaylistBytes = def.MaxPlaylistBytes
	}
	if cfg.MaxPlaylistErrors <= 0 {
		cfg.MaxPlaylistErrors = def.MaxPlaylistErrors
	}
	if cfg.MinPollInterval <= 0 {
		cfg.MinPollInterval = def.MinPollInterval
	}
	e := &Engine{
		cfg:    cfg,
		client: &http.Client{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "hls-engine"))
	return e
}

// Load implements player.Engine. It returns immediately; playlist fetching
// and readiness reporting happen on a resource goroutine.
func (e *Engine) Load(ctx context.Context, sourceURL string, isLocal bool, opts player.LoadOptions) (player.Resource, error) {
	if sourceURL == "" {
		return nil, fmt.Errorf("empty source URL")
	}
	r := newResource(e, sourceURL, isLocal, opts)
	go r.prepare(ctx)
	return r, nil
}

// fetchPlaylist retrieves raw playlist bytes from HTTP or the local
// filesystem, bounded by the configured size limit.
func (e *Engine) fetchPlaylist(ctx context.Context, sourceURL string, isLocal bool) ([]byte, error) {
	if isLocal {
		data, err := os.ReadFile(urlutil.LocalPath(sourceURL))
		if err != nil {
			return nil, err
		}
		if len(data) > e.cfg.MaxPlaylistBytes {
			return nil, fmt.Errorf("playlist exceeds %d bytes", e.cfg.MaxPlaylistBytes)
		}
		return data, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.PlaylistTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(e.cfg.MaxPlaylistBytes)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > e.cfg.MaxPlaylistBytes {
		return nil, fmt.Errorf("playlist exceeds %d bytes", e.cfg.MaxPlaylistBytes)
	}
	return data, nil
}

// resolveMedia parses playlist bytes, following a multivariant playlist to
// its highest-bandwidth variant. It returns the media playlist together
// with the URL it was fetched from, which segment URIs are relative to.
func (e *Engine) resolveMedia(ctx context.Context, sourceURL string, isLocal bool, data []byte) (*playlist.Media, string, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, "", err
	}

	switch p := pl.(type) {
	case *playlist.Media:
		return p, sourceURL, nil

	case *playlist.Multivariant:
		if len(p.Variants) == 0 {
			return nil, "", fmt.Errorf("multivariant playlist has no variants")
		}
		variants := make([]*playlist.MultivariantVariant, len(p.Variants))
		copy(variants, p.Variants)
		sort.Slice(variants, func(i, j int) bool {
			return variants[i].Bandwidth > variants[j].Bandwidth
		})
		variantURL := absolutizeURL(sourceURL, variants[0].URI)
		variantBytes, err := e.fetchPlaylist(ctx, variantURL, isLocal)
		if err != nil {
			return nil, "", fmt.Errorf("fetching variant playlist: %w", err)
		}
		variantPL, err := playlist.Unmarshal(variantBytes)
		if err != nil {
			return nil, "", fmt.Errorf("parsing variant playlist: %w", err)
		}
		media, ok := variantPL.(*playlist.Media)
		if !ok {
			return nil, "", fmt.Errorf("variant did not resolve to a media playlist")
		}
		return media, variantURL, nil

	default:
		return nil, "", fmt.Errorf("unsupported playlist type")
	}
}

// absolutizeURL resolves a possibly relative reference against the
// playlist URL.
func absolutizeURL(playlistURL, ref string) string {
	if urlutil.IsRemoteURL(ref) {
		return ref
	}
	base, err := url.Parse(playlistURL)
	if err != nil {
		if idx := strings.LastIndex(playlistURL, "/"); idx >= 0 {
			return playlistURL[:idx+1] + ref
		}
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
