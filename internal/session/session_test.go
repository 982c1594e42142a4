package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/latoulicious/voicecast/internal/config"
	"github.com/latoulicious/voicecast/internal/httpfetch"
	"github.com/latoulicious/voicecast/internal/pipeline"
	"github.com/latoulicious/voicecast/internal/provider"
	"github.com/latoulicious/voicecast/internal/queue"
	"github.com/latoulicious/voicecast/internal/store"
	"github.com/latoulicious/voicecast/internal/voicesink"
)

// --- minimal store.Repository fake, scoped to this test file ---

type fakeRepo struct {
	mu   sync.Mutex
	rows map[string][]store.QueuedTrack
	rowQ map[string]*store.QueueRow
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string][]store.QueuedTrack), rowQ: make(map[string]*store.QueueRow)}
}

func key(channel string, priority bool) string {
	if priority {
		return channel + "/p"
	}
	return channel + "/r"
}

func (f *fakeRepo) UpsertTrack(ctx context.Context, channelID, guildID string, track store.QueuedTrack, replaceFirst bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(channelID, track.Priority)
	f.rows[k] = append(f.rows[k], track)
	return nil
}
func (f *fakeRepo) PopFirstTrack(ctx context.Context, channelID string, priority bool) (*store.QueuedTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(channelID, priority)
	if len(f.rows[k]) == 0 {
		return nil, nil
	}
	head := f.rows[k][0]
	f.rows[k] = f.rows[k][1:]
	return &head, nil
}
func (f *fakeRepo) ListTracks(ctx context.Context, channelID string, priority bool) ([]store.QueuedTrack, error) {
	return nil, nil
}
func (f *fakeRepo) RemoveTrack(ctx context.Context, channelID, trackID string) error { return nil }
func (f *fakeRepo) AddTracks(ctx context.Context, channelID string, tracks []store.QueuedTrack, priority bool) error {
	return nil
}
func (f *fakeRepo) MoveTrack(ctx context.Context, channelID string, from, to int, priority bool) error {
	return nil
}
func (f *fakeRepo) CountTracks(ctx context.Context, channelID string, priority bool) (int, error) {
	return 0, nil
}
func (f *fakeRepo) ClearTracks(ctx context.Context, channelID string, priority bool) error { return nil }
func (f *fakeRepo) GetQueueRow(ctx context.Context, channelID string, priority bool) (*store.QueueRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rowQ[channelID], nil
}
func (f *fakeRepo) UpsertChannelBinding(ctx context.Context, guildID, channelID string, priority bool) error {
	return nil
}
func (f *fakeRepo) SetLastTrackID(ctx context.Context, channelID string, trackID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rowQ[channelID] == nil {
		f.rowQ[channelID] = &store.QueueRow{ChannelID: channelID}
	}
	f.rowQ[channelID].LastTrackID = trackID
	return nil
}
func (f *fakeRepo) ClearQueueRow(ctx context.Context, channelID string, priority bool) error { return nil }
func (f *fakeRepo) GetWaveStatus(ctx context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rowQ[channelID] == nil {
		return false, nil
	}
	return f.rowQ[channelID].WaveStatus, nil
}
func (f *fakeRepo) SetWaveStatus(ctx context.Context, channelID string, on bool) error { return nil }
func (f *fakeRepo) SaveQueueState(ctx context.Context, channelID, key string, snapshot []byte) error {
	return nil
}
func (f *fakeRepo) RestoreQueueState(ctx context.Context, channelID, key string) ([]byte, error) {
	return nil, nil
}
func (f *fakeRepo) RecordGlobalHistory(ctx context.Context, trackID, info string) error { return nil }
func (f *fakeRepo) RecordUserHistory(ctx context.Context, requestedBy, trackID, info string) error {
	return nil
}

type fakeCache struct{}

func (fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error)          { return nil, false, nil }
func (fakeCache) Set(ctx context.Context, key string, v []byte, ttl time.Duration) error { return nil }
func (fakeCache) Delete(ctx context.Context, key string) error                        { return nil }

type fakeHistory struct {
	globalCalls int
	userCalls   int
}

func (h *fakeHistory) RecordGlobalHistory(ctx context.Context, trackID, info string) error {
	h.globalCalls++
	return nil
}
func (h *fakeHistory) RecordUserHistory(ctx context.Context, requestedBy, trackID, info string) error {
	h.userCalls++
	return nil
}

type fakeHandle struct {
	done chan struct{}
}

func (h fakeHandle) Stop()                   { <-h.done }
func (h fakeHandle) Done() <-chan struct{}   { return h.done }

type fakeSink struct {
	mu       sync.Mutex
	attached int
}

func (s *fakeSink) Attach(ctx context.Context, guildID string, stream io.ReadCloser, kind pipeline.Kind) (voicesink.Handle, error) {
	s.mu.Lock()
	s.attached++
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(io.Discard, stream)
		stream.Close()
	}()
	return fakeHandle{done: done}, nil
}

func newTestSession(t *testing.T) (*Session, *fakeRepo, *fakeHistory) {
	t.Helper()
	repo := newFakeRepo()
	qs := queue.New(repo, fakeCache{})

	cfg := config.ProviderConfig{APIKey: "k", UserID: "u", BaseURL: "https://music.example", UseCache: false}
	prov := provider.New(cfg, nil)
	builder := pipeline.New(httpfetch.New(), nil)
	hist := &fakeHistory{}
	sink := &fakeSink{}

	deps := Deps{
		Queue:     qs,
		Provider:  prov,
		Pipeline:  builder,
		Sink:      sink,
		History:   hist,
		GuildID:   "guild1",
		ChannelID: "chan1",
	}
	return New(deps), repo, hist
}

// newPlayableSession wires a real provider.Adapter at a fake music API
// server (so GetTrackURL resolves via the real HTTP client), a real
// pipeline.Builder, and serves the resolved URL an .ogg payload so the
// pipeline takes the passthrough path with no ffmpeg involved.
func newPlayableSession(t *testing.T) (*Session, *fakeRepo, *fakeHistory, *fakeSink) {
	t.Helper()
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/ogg")
		w.Write([]byte("fake-ogg-bytes"))
	}))
	t.Cleanup(audio.Close)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/download-info") {
			fmt.Fprintf(w, `{"downloadUrl": %q}`, audio.URL+"/track.ogg")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(api.Close)

	repo := newFakeRepo()
	qs := queue.New(repo, fakeCache{})
	cfg := config.ProviderConfig{APIKey: "k", UserID: "u", BaseURL: api.URL, UseCache: false}
	prov := provider.New(cfg, httpfetch.New())
	builder := pipeline.New(httpfetch.New(), nil)
	hist := &fakeHistory{}
	sink := &fakeSink{}

	deps := Deps{
		Queue:     qs,
		Provider:  prov,
		Pipeline:  builder,
		Sink:      sink,
		History:   hist,
		GuildID:   "guild1",
		ChannelID: "chan1",
	}
	return New(deps), repo, hist, sink
}

func TestAdvanceGoesIdleOnEmptyQueue(t *testing.T) {
	sess, _, _ := newTestSession(t)
	if err := sess.Advance(context.Background()); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if sess.State() != Idle {
		t.Fatalf("expected Idle, got %v", sess.State())
	}
}

func TestStopClearsQueueAndTransitionsStopped(t *testing.T) {
	sess, _, _ := newTestSession(t)
	if err := sess.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sess.State() != Stopped {
		t.Fatalf("expected Stopped, got %v", sess.State())
	}
}

func TestAdvancePlaysQueuedTrackAndRecordsHistory(t *testing.T) {
	sess, repo, hist, sink := newPlayableSession(t)
	repo.mu.Lock()
	repo.rows[key("chan1", false)] = []store.QueuedTrack{{TrackID: "t1", Info: `{"id":"t1","title":"Song","artists":[{"name":"a"}]}`}}
	repo.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- sess.Advance(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Advance did not return in time")
	}

	if hist.globalCalls != 1 {
		t.Fatalf("expected 1 global history record, got %d", hist.globalCalls)
	}
	sink.mu.Lock()
	attached := sink.attached
	sink.mu.Unlock()
	if attached != 1 {
		t.Fatalf("expected 1 sink attachment, got %d", attached)
	}
	if sess.State() != Idle {
		t.Fatalf("expected Idle after stream ends, got %v", sess.State())
	}
}
