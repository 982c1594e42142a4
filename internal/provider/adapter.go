package provider

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/latoulicious/voicecast/internal/apperrors"
	"github.com/latoulicious/voicecast/internal/config"
	"github.com/latoulicious/voicecast/internal/httpfetch"
)

var (
	albumTrackPattern   = regexp.MustCompile(`^/album/([^/]+)/track/([^/]+)$`)
	trackPattern        = regexp.MustCompile(`^/track/([^/]+)$`)
	userPlaylistPattern = regexp.MustCompile(`^/users/([^/]+)/playlists/([^/]+)$`)
	playlistPattern     = regexp.MustCompile(`^/playlists/([^/]+)$`)
	albumPattern        = regexp.MustCompile(`^/album/([^/]+)$`)
)

// Adapter is the ProviderAdapter component (spec.md §4.6). It is safe
// for concurrent use: caches and the radio session map are internally
// synchronized.
type Adapter struct {
	cfg    config.ProviderConfig
	client APIClient
	cache  *adapterCache
	radio  *radioState

	initMu      sync.Mutex
	initialized bool

	onFallback func(seedTrackID string)
}

// Option configures optional Adapter behavior.
type Option func(*Adapter)

// WithOnFallback installs a hook invoked whenever get_recommendations
// falls back from the station path to similar_tracks (spec.md §9:
// "metrics should count both paths"), without pulling a metrics
// dependency into the core.
func WithOnFallback(f func(seedTrackID string)) Option {
	return func(a *Adapter) { a.onFallback = f }
}

// WithClient overrides the production HTTP client, for testing.
func WithClient(c APIClient) Option {
	return func(a *Adapter) { a.client = c }
}

func New(cfg config.ProviderConfig, fetcher *httpfetch.Fetcher, opts ...Option) *Adapter {
	a := &Adapter{
		cfg:   cfg,
		cache: newAdapterCache(cfg.UseCache),
		radio: newRadioState(),
	}
	a.client = newHTTPAPIClient(cfg, fetcher)
	for _, o := range opts {
		o(a)
	}
	return a
}

// EnsureInitialized is idempotent auth/bootstrap protected by a
// single-initialization mutex (spec.md §4.6).
func (a *Adapter) EnsureInitialized(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.initialized {
		return nil
	}
	if a.cfg.APIKey == "" || a.cfg.UserID == "" {
		return apperrors.New(apperrors.KindProviderInit, "Adapter.EnsureInitialized", nil)
	}
	a.initialized = true
	return nil
}

// IncludesURL reports whether url's path matches a recognized
// playlist/album/track pattern, independent of host.
func (a *Adapter) IncludesURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return albumTrackPattern.MatchString(u.Path) ||
		trackPattern.MatchString(u.Path) ||
		userPlaylistPattern.MatchString(u.Path) ||
		playlistPattern.MatchString(u.Path) ||
		albumPattern.MatchString(u.Path)
}

// SearchName implements search_name(query) (spec.md §4.6): cache key
// "search:<query>", up to 3 attempts with backoff on miss, schema validation
// drops invalid entries, populates cache only on non-empty success.
func (a *Adapter) SearchName(ctx context.Context, query string) ([]Track, error) {
	key := "search:" + query
	if cached, ok := a.cache.get(key); ok {
		return cached.([]Track), nil
	}

	var tracks []Track
	err := apperrors.Retry(3, apperrors.DefaultBackoff, sleepFor(ctx), func(attempt int) error {
		raw, err := a.client.SearchTracks(ctx, query)
		if err != nil {
			return err
		}
		tracks = validTracks(raw, SourceYandex, false)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(tracks) > 0 {
		a.cache.set(key, tracks)
	}
	return tracks, nil
}

// SearchURL implements search_url(url) (spec.md §4.6): dispatches by
// URL shape; returns an empty list (not an error) for host mismatch or
// an unrecognized path.
func (a *Adapter) SearchURL(ctx context.Context, rawURL string) ([]Track, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil
	}
	if a.cfg.BaseURL != "" {
		if base, err := url.Parse(a.cfg.BaseURL); err == nil && base.Host != "" && u.Host != "" && u.Host != base.Host {
			return nil, nil
		}
	}

	switch {
	case albumTrackPattern.MatchString(u.Path):
		m := albumTrackPattern.FindStringSubmatch(u.Path)
		return a.trackByID(ctx, m[2])
	case trackPattern.MatchString(u.Path):
		m := trackPattern.FindStringSubmatch(u.Path)
		return a.trackByID(ctx, m[1])
	case userPlaylistPattern.MatchString(u.Path):
		m := userPlaylistPattern.FindStringSubmatch(u.Path)
		return a.GetPlaylistTracks(ctx, m[2], m[1])
	case playlistPattern.MatchString(u.Path):
		m := playlistPattern.FindStringSubmatch(u.Path)
		return a.GetPlaylistTracks(ctx, m[1], "")
	case albumPattern.MatchString(u.Path):
		m := albumPattern.FindStringSubmatch(u.Path)
		return a.GetAlbumTracks(ctx, m[1])
	default:
		return nil, nil
	}
}

func (a *Adapter) trackByID(ctx context.Context, id string) ([]Track, error) {
	raw, err := a.client.GetTrack(ctx, id)
	if err != nil {
		return nil, err
	}
	t := raw.toTrack(SourceYandex, false)
	if !t.Valid() {
		return nil, nil
	}
	return []Track{t}, nil
}

// GetTrackURL implements get_track_url(track_id) (spec.md §4.6):
// quality-high resolved URL with up to 3 attempts; empty result returns none.
func (a *Adapter) GetTrackURL(ctx context.Context, trackID string) (string, error) {
	var dlURL string
	err := apperrors.Retry(3, apperrors.DefaultBackoff, sleepFor(ctx), func(attempt int) error {
		u, err := a.client.GetMp3DownloadURL(ctx, trackID)
		if err != nil {
			return err
		}
		dlURL = u
		return nil
	})
	if err != nil {
		return "", err
	}
	return dlURL, nil
}

// GetPlaylistTracks implements get_playlist_tracks(playlist_id, user?)
// (spec.md §4.6): cached per-id; numeric-only playlist_id is looked up
// with user scope, else by playlist kind.
func (a *Adapter) GetPlaylistTracks(ctx context.Context, playlistID, user string) ([]Track, error) {
	key := "playlist:" + user + ":" + playlistID
	if cached, ok := a.cache.get(key); ok {
		return cached.([]Track), nil
	}

	var raw []rawTrack
	var err error
	if _, numErr := strconv.ParseInt(playlistID, 10, 64); numErr == nil && user != "" {
		raw, err = a.client.GetPlaylistByUser(ctx, user, playlistID)
	} else {
		raw, err = a.client.GetPlaylistByKind(ctx, playlistID)
	}
	if err != nil {
		return nil, err
	}

	tracks := validTracks(raw, SourceYandex, false)
	if len(tracks) > 0 {
		a.cache.set(key, tracks)
	}
	return tracks, nil
}

// GetAlbumTracks implements get_album_tracks(album_id), cached per-id.
func (a *Adapter) GetAlbumTracks(ctx context.Context, albumID string) ([]Track, error) {
	key := "album:" + albumID
	if cached, ok := a.cache.get(key); ok {
		return cached.([]Track), nil
	}
	raw, err := a.client.GetAlbumWithTracks(ctx, albumID)
	if err != nil {
		return nil, err
	}
	tracks := validTracks(raw, SourceYandex, false)
	if len(tracks) > 0 {
		a.cache.set(key, tracks)
	}
	return tracks, nil
}

// GetRecommendations implements get_recommendations(seed_track_id),
// the station/rotor radio state machine (spec.md §4.6).
func (a *Adapter) GetRecommendations(ctx context.Context, seedTrackID string) ([]Track, error) {
	return a.getRecommendations(ctx, seedTrackID)
}

// ResetRadioSession clears all session state.
func (a *Adapter) ResetRadioSession() { a.radio.reset() }

// ClearCache flushes all per-key caches.
func (a *Adapter) ClearCache() { a.cache.clear() }

// Destroy cancels the periodic cleanup and drops caches.
func (a *Adapter) Destroy() {
	a.cache.stop()
	a.cache.clear()
	a.radio.reset()
}

// sleepFor adapts apperrors.Retry's sleep callback to cooperate with
// ctx cancellation.
func sleepFor(ctx context.Context) func(time.Duration) {
	return func(d time.Duration) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
}
