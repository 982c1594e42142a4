// Package session implements the PlaybackSession component (spec.md
// §4.8): the per-guild playback state machine driving advance/skip/stop
// and wave-mode auto-continuation. It is grounded on the teacher's
// pkg/audio/pipeline.go AudioPipelineController, keeping its
// state-enum-plus-mutex shape and its executePlayback/streamAudio
// separation of "decide what's next" from "run the current track."
package session

import (
	"context"
	"io"
	"sync"

	"github.com/latoulicious/voicecast/internal/apperrors"
	"github.com/latoulicious/voicecast/internal/logging"
	"github.com/latoulicious/voicecast/internal/pipeline"
	"github.com/latoulicious/voicecast/internal/provider"
	"github.com/latoulicious/voicecast/internal/queue"
	"github.com/latoulicious/voicecast/internal/voicesink"
)

// State is the PlaybackSession's FSM state (spec.md §4.8: Idle →
// Playing → {Ending → (Playing|WaveAdvance|Idle)} → Stopped).
type State int

const (
	Idle State = iota
	Playing
	Ending
	WaveAdvance
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Ending:
		return "ending"
	case WaveAdvance:
		return "wave_advance"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// History records the two play-count increments a track start triggers
// (spec.md §4.8): GlobalHistory and the requester's UserHistory.
type History interface {
	RecordGlobalHistory(ctx context.Context, trackID, info string) error
	RecordUserHistory(ctx context.Context, requestedBy, trackID, info string) error
}

// Deps bundles the collaborators a Session coordinates, mirroring the
// teacher's constructor-injected, interfaces-only AudioPipelineController.
type Deps struct {
	Queue    *queue.Store
	Provider *provider.Adapter
	Pipeline *pipeline.Builder
	Sink     voicesink.VoiceSink
	History  History
	Logger   logging.Logger

	GuildID   string
	ChannelID string
}

// Session is a single guild's PlaybackSession.
type Session struct {
	deps Deps

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	lastTrackID *string
	dspOpts     pipeline.Options
}

// New builds a Session in the Idle state.
func New(deps Deps) *Session {
	return &Session{deps: deps, state: Idle, dspOpts: pipeline.Options{Volume: 1.0}}
}

// State reports the current FSM state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetDSPOptions updates the options applied to tracks started after
// this call. The current track's processor is not changed: playTrack
// keeps its pipeline.Built local, so Session exposes no handle to it.
func (s *Session) SetDSPOptions(opts pipeline.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dspOpts = opts
}

// Advance implements advance() (spec.md §4.8): dequeue priority, else
// non-priority; if empty and wave-mode is on, request a recommendation
// off the last track and recurse once; otherwise go Idle.
func (s *Session) Advance(ctx context.Context) error {
	return s.advance(ctx, true)
}

func (s *Session) advance(ctx context.Context, allowWaveRecurse bool) error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.state = Ending
	s.mu.Unlock()

	track, err := s.deps.Queue.PopPriorityTrack(ctx, s.deps.ChannelID)
	if err != nil {
		return err
	}
	if track == nil {
		track, err = s.deps.Queue.GetTrack(ctx, s.deps.ChannelID)
		if err != nil {
			return err
		}
	}

	if track == nil {
		if allowWaveRecurse {
			waveOn, err := s.deps.Queue.GetWaveStatus(ctx, s.deps.ChannelID)
			if err == nil && waveOn && s.lastSeed() != "" {
				s.setState(WaveAdvance)
				recs, recErr := s.deps.Provider.GetRecommendations(ctx, s.lastSeed())
				if recErr == nil && len(recs) > 0 {
					for _, rec := range recs {
						_ = s.deps.Queue.SetTrack(ctx, s.deps.ChannelID, s.deps.GuildID, rec, false)
					}
					return s.advance(ctx, false)
				}
			}
		}
		s.setState(Idle)
		return nil
	}

	cancelled, err := s.playTrack(ctx, *track, "")
	if err != nil && s.deps.Logger != nil {
		s.deps.Logger.Error("track playback failed, advancing to next", err, map[string]interface{}{
			"channel_id": s.deps.ChannelID,
			"track_id":   track.ID,
		})
	}

	// A track ending naturally or on error re-enters advance() for the
	// next queued track. A track ended by external cancellation (Skip,
	// Stop, or the parent context) leaves continuation to the canceller
	// — Skip calls Advance itself; Stop has already gone Stopped.
	if cancelled {
		return nil
	}
	s.mu.Lock()
	stopped := s.state == Stopped
	s.mu.Unlock()
	if stopped {
		return nil
	}
	return s.advance(ctx, true)
}

func (s *Session) lastSeed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTrackID == nil {
		return ""
	}
	return *s.lastTrackID
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// playTrack resolves the track's URL, builds the pipeline, attaches to
// the voice sink, records history, and blocks until the attachment
// ends. The returned bool reports whether the end was an external
// cancellation (Skip/Stop/parent ctx) rather than the stream finishing
// on its own — advance() uses it to decide whether to self-continue.
func (s *Session) playTrack(ctx context.Context, track provider.Track, requestedBy string) (cancelled bool, err error) {
	url, err := s.deps.Provider.GetTrackURL(ctx, track.ID)
	if err != nil {
		return false, err
	}
	if url == "" {
		return false, apperrors.New(apperrors.KindProviderNotFound, "Session.playTrack", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	dspOpts := s.dspOpts
	s.mu.Unlock()

	built, err := s.deps.Pipeline.Build(runCtx, url, dspOpts)
	if err != nil {
		cancel()
		return false, err
	}

	id := track.ID
	s.mu.Lock()
	s.lastTrackID = &id
	s.state = Playing
	s.mu.Unlock()

	if err := s.deps.Queue.SetLastTrackID(ctx, s.deps.ChannelID, &id); err != nil && s.deps.Logger != nil {
		s.deps.Logger.Warn("failed to persist last_track_id", map[string]interface{}{"error": err.Error()})
	}

	if s.deps.History != nil {
		info := track.Title
		if err := s.deps.History.RecordGlobalHistory(ctx, track.ID, info); err != nil && s.deps.Logger != nil {
			s.deps.Logger.Warn("failed to record global history", map[string]interface{}{"error": err.Error()})
		}
		if requestedBy != "" {
			if err := s.deps.History.RecordUserHistory(ctx, requestedBy, track.ID, info); err != nil && s.deps.Logger != nil {
				s.deps.Logger.Warn("failed to record user history", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	handle, err := s.deps.Sink.Attach(runCtx, s.deps.GuildID, built.Stream, built.Kind)
	if err != nil {
		built.Stream.Close()
		cancel()
		return false, err
	}

	select {
	case <-handle.Done():
	case <-runCtx.Done():
	}
	wasCancelled := runCtx.Err() != nil
	handle.Stop()
	cancel()
	return wasCancelled, nil
}

// Skip implements skip(): cancel the current pipeline, then advance.
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return s.Advance(ctx)
}

// Stop implements stop(): cancel current playback, clear the queue,
// transition to Stopped.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.state = Stopped
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return s.deps.Queue.ClearQueue(ctx, s.deps.ChannelID, false)
}

// EnsureStreamCloses is a defensive helper for callers that build a
// pipeline.Built outside playTrack's flow (e.g. a preview command) and
// need the same cancellation-propagates-to-Close guarantee.
func EnsureStreamCloses(ctx context.Context, stream io.ReadCloser) {
	go func() {
		<-ctx.Done()
		stream.Close()
	}()
}
