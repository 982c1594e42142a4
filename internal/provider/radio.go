package provider

import (
	"context"
	"fmt"

	"github.com/latoulicious/voicecast/internal/apperrors"
	"golang.org/x/sync/singleflight"
)

// radioSession is the per-seed-track station/rotor state (spec.md §3's
// RadioSession, §4.6 step 2-5).
type radioSession struct {
	seedTrackID string
	sessionID   string
	batchID     string
	playedIDs   map[string]struct{}
	queuedIDs   []string
}

func newRadioSession(seed string) *radioSession {
	return &radioSession{seedTrackID: seed, playedIDs: make(map[string]struct{})}
}

// radioState owns all per-seed sessions plus the single-flight group
// ensuring at most one in-flight session-creation call per seed
// (spec.md §4.6 step 2, testable property 13).
type radioState struct {
	mu       chan struct{} // binary mutex; allows use across the singleflight callback without recursive lock
	sessions map[string]*radioSession
	sf       singleflight.Group
}

func newRadioState() *radioState {
	r := &radioState{mu: make(chan struct{}, 1), sessions: make(map[string]*radioSession)}
	r.mu <- struct{}{}
	return r
}

func (r *radioState) lock()   { <-r.mu }
func (r *radioState) unlock() { r.mu <- struct{}{} }

func (r *radioState) get(seed string) *radioSession {
	r.lock()
	defer r.unlock()
	return r.sessions[seed]
}

func (r *radioState) invalidate(seed string) {
	r.lock()
	defer r.unlock()
	delete(r.sessions, seed)
}

func (r *radioState) reset() {
	r.lock()
	defer r.unlock()
	r.sessions = make(map[string]*radioSession)
}

// ensureSession returns the existing session for seed, or creates one
// via a single in-flight call shared by concurrent callers.
func (r *radioState) ensureSession(ctx context.Context, client APIClient, seed string) (*radioSession, error) {
	if s := r.get(seed); s != nil {
		return s, nil
	}
	v, err, _ := r.sf.Do(seed, func() (interface{}, error) {
		if s := r.get(seed); s != nil {
			return s, nil
		}
		sessionID, batchID, err := client.CreateRotorSession(ctx, seed, true)
		if err != nil {
			return nil, err
		}
		s := newRadioSession(seed)
		s.sessionID = sessionID
		s.batchID = batchID
		r.lock()
		r.sessions[seed] = s
		r.unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*radioSession), nil
}

// playedKey is the composite key for RadioSession.played_ids: the track
// ID and the first album's title, joined by ":". Album carries no ID
// field, so the album part is the title (empty when the track has no
// album), not an album ID.
func playedKey(t Track) string {
	albumTitle := ""
	if len(t.Albums) > 0 {
		albumTitle = t.Albums[0].Title
	}
	return fmt.Sprintf("%s:%s", t.ID, albumTitle)
}

// getRecommendations implements the station/rotor state machine
// (spec.md §4.6 get_recommendations). A fatal (400) rotor response
// invalidates the seed's session and retries once; any other failure,
// a second fatal response, or a batch with no unplayed valid track
// falls back to similar_tracks.
func (a *Adapter) getRecommendations(ctx context.Context, seedTrackID string) ([]Track, error) {
	for attempt := 0; attempt < 2; attempt++ {
		session, err := a.radio.ensureSession(ctx, a.client, seedTrackID)
		if err != nil {
			break
		}

		raw, err := a.client.PostRotorSessionTracks(ctx, session.sessionID, session.batchID, session.queuedIDs)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindProviderFatal {
				a.radio.invalidate(seedTrackID)
				continue
			}
			break
		}

		for _, rt := range raw {
			t := rt.toTrack(SourceYandex, true)
			if !t.Valid() {
				continue
			}
			key := playedKey(t)
			if _, seen := session.playedIDs[key]; seen {
				continue
			}
			session.queuedIDs = append(session.queuedIDs, t.ID)
			session.playedIDs[key] = struct{}{}
			return []Track{t}, nil
		}
		break
	}

	if a.onFallback != nil {
		a.onFallback(seedTrackID)
	}
	return a.similarTracksFallback(ctx, seedTrackID)
}

func (a *Adapter) similarTracksFallback(ctx context.Context, seedTrackID string) ([]Track, error) {
	cacheKey := "similar:" + seedTrackID
	if cached, ok := a.cache.get(cacheKey); ok {
		return cached.([]Track), nil
	}

	raw, err := a.client.GetSimilarTracks(ctx, seedTrackID)
	if err != nil {
		return nil, err
	}
	tracks := validTracks(raw, SourceYandex, false)
	if len(tracks) > 5 {
		tracks = tracks[:5]
	}
	if len(tracks) > 0 {
		a.cache.set(cacheKey, tracks)
	}
	return tracks, nil
}

func validTracks(raw []rawTrack, source Source, generation bool) []Track {
	out := make([]Track, 0, len(raw))
	for _, r := range raw {
		t := r.toTrack(source, generation)
		if t.Valid() {
			out = append(out, t)
		}
	}
	return out
}
