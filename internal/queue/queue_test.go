package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/latoulicious/voicecast/internal/provider"
	"github.com/latoulicious/voicecast/internal/store"
)

// fakeRepo is a minimal in-memory store.Repository for exercising
// Store's caching/locking/serialization logic without a database.
type fakeRepo struct {
	mu     sync.Mutex
	rows   map[string][]store.QueuedTrack // key: channel/priority
	queues map[string]*store.QueueRow     // key: channel
	states map[string][]byte
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rows:   make(map[string][]store.QueuedTrack),
		queues: make(map[string]*store.QueueRow),
		states: make(map[string][]byte),
	}
}

func rowsKey(channel string, priority bool) string {
	if priority {
		return channel + "/p"
	}
	return channel + "/r"
}

func (f *fakeRepo) UpsertTrack(ctx context.Context, channelID, guildID string, track store.QueuedTrack, replaceFirst bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rowsKey(channelID, track.Priority)
	if _, ok := f.queues[channelID]; !ok {
		f.queues[channelID] = &store.QueueRow{GuildID: guildID, ChannelID: channelID}
	}
	if replaceFirst && len(f.rows[k]) > 0 {
		f.rows[k][0] = track
		return nil
	}
	f.rows[k] = append(f.rows[k], track)
	return nil
}

func (f *fakeRepo) PopFirstTrack(ctx context.Context, channelID string, priority bool) (*store.QueuedTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rowsKey(channelID, priority)
	rows := f.rows[k]
	if len(rows) == 0 {
		return nil, nil
	}
	head := rows[0]
	f.rows[k] = rows[1:]
	return &head, nil
}

func (f *fakeRepo) ListTracks(ctx context.Context, channelID string, priority bool) ([]store.QueuedTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.QueuedTrack{}, f.rows[rowsKey(channelID, priority)]...), nil
}

func (f *fakeRepo) RemoveTrack(ctx context.Context, channelID, trackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range []bool{true, false} {
		k := rowsKey(channelID, p)
		out := f.rows[k][:0]
		for _, r := range f.rows[k] {
			if r.TrackID != trackID {
				out = append(out, r)
			}
		}
		f.rows[k] = out
	}
	return nil
}

func (f *fakeRepo) AddTracks(ctx context.Context, channelID string, tracks []store.QueuedTrack, priority bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rowsKey(channelID, priority)
	f.rows[k] = append(f.rows[k], tracks...)
	return nil
}

func (f *fakeRepo) MoveTrack(ctx context.Context, channelID string, from, to int, priority bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rowsKey(channelID, priority)
	rows := f.rows[k]
	if from < 0 || from >= len(rows) || to < 0 || to >= len(rows) {
		return nil
	}
	moved := rows[from]
	rows = append(rows[:from], rows[from+1:]...)
	rows = append(rows[:to], append([]store.QueuedTrack{moved}, rows[to:]...)...)
	f.rows[k] = rows
	return nil
}

func (f *fakeRepo) CountTracks(ctx context.Context, channelID string, priority bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[rowsKey(channelID, priority)]), nil
}

func (f *fakeRepo) ClearTracks(ctx context.Context, channelID string, priority bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, rowsKey(channelID, priority))
	return nil
}

func (f *fakeRepo) GetQueueRow(ctx context.Context, channelID string, priority bool) (*store.QueueRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queues[channelID], nil
}

func (f *fakeRepo) UpsertChannelBinding(ctx context.Context, guildID, channelID string, priority bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[channelID] = &store.QueueRow{GuildID: guildID, ChannelID: channelID, Priority: priority}
	return nil
}

func (f *fakeRepo) SetLastTrackID(ctx context.Context, channelID string, trackID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queues[channelID] == nil {
		f.queues[channelID] = &store.QueueRow{ChannelID: channelID}
	}
	f.queues[channelID].LastTrackID = trackID
	return nil
}

func (f *fakeRepo) ClearQueueRow(ctx context.Context, channelID string, priority bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, rowsKey(channelID, priority))
	if f.queues[channelID] != nil {
		f.queues[channelID].LastTrackID = nil
	}
	return nil
}

func (f *fakeRepo) GetWaveStatus(ctx context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queues[channelID] == nil {
		return false, nil
	}
	return f.queues[channelID].WaveStatus, nil
}

func (f *fakeRepo) SetWaveStatus(ctx context.Context, channelID string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queues[channelID] == nil {
		f.queues[channelID] = &store.QueueRow{ChannelID: channelID}
	}
	f.queues[channelID].WaveStatus = on
	return nil
}

func (f *fakeRepo) SaveQueueState(ctx context.Context, channelID, key string, snapshot []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[channelID+"/"+key] = snapshot
	return nil
}

func (f *fakeRepo) RestoreQueueState(ctx context.Context, channelID, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[channelID+"/"+key], nil
}

func (f *fakeRepo) RecordGlobalHistory(ctx context.Context, trackID, info string) error { return nil }
func (f *fakeRepo) RecordUserHistory(ctx context.Context, requestedBy, trackID, info string) error {
	return nil
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}
func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func testTrack(id string) provider.Track {
	return provider.Track{ID: id, Title: "t-" + id, Artists: []provider.Artist{{Name: "a"}}, Source: provider.SourceYandex}
}

func TestSetTrackThenGetTrackFIFO(t *testing.T) {
	s := New(newFakeRepo(), newFakeCache())
	ctx := context.Background()

	if err := s.SetTrack(ctx, "chan1", "guild1", testTrack("1"), false); err != nil {
		t.Fatalf("SetTrack: %v", err)
	}
	got, err := s.GetTrack(ctx, "chan1")
	if err != nil {
		t.Fatalf("GetTrack: %v", err)
	}
	if got == nil || got.ID != "1" {
		t.Fatalf("expected track 1, got %+v", got)
	}
}

func TestSetTrackReplacesFirstByDefault(t *testing.T) {
	s := New(newFakeRepo(), newFakeCache())
	ctx := context.Background()

	if err := s.SetTrack(ctx, "chan2", "guild1", testTrack("1"), false); err != nil {
		t.Fatalf("SetTrack: %v", err)
	}
	if err := s.SetTrack(ctx, "chan2", "guild1", testTrack("2"), false); err != nil {
		t.Fatalf("SetTrack: %v", err)
	}
	count, err := s.CountMusicTracks(ctx, "chan2", false)
	if err != nil {
		t.Fatalf("CountMusicTracks: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected replace-first to keep queue at 1 row, got %d", count)
	}
}

func TestGetQueuePopulatesCache(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache()
	s := New(repo, cache)
	ctx := context.Background()

	if err := s.AddMultipleTracks(ctx, "chan3", []provider.Track{testTrack("1"), testTrack("2")}, false); err != nil {
		t.Fatalf("AddMultipleTracks: %v", err)
	}
	snap, err := s.GetQueue(ctx, "chan3", false)
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if len(snap.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(snap.Tracks))
	}
	if _, ok, _ := cache.Get(ctx, queueCacheKey("chan3", false)); !ok {
		t.Fatal("expected cache to be populated after miss")
	}
}

func TestClearQueueRetainsWaveStatus(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo, newFakeCache())
	ctx := context.Background()

	if err := s.SetWaveStatus(ctx, "chan4", true); err != nil {
		t.Fatalf("SetWaveStatus: %v", err)
	}
	if err := s.AddMultipleTracks(ctx, "chan4", []provider.Track{testTrack("1")}, false); err != nil {
		t.Fatalf("AddMultipleTracks: %v", err)
	}
	if err := s.ClearQueue(ctx, "chan4", false); err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	on, err := s.GetWaveStatus(ctx, "chan4")
	if err != nil {
		t.Fatalf("GetWaveStatus: %v", err)
	}
	if !on {
		t.Fatal("expected wave_status to survive clear_queue")
	}
	count, _ := s.CountMusicTracks(ctx, "chan4", false)
	if count != 0 {
		t.Fatalf("expected tracks cleared, got %d", count)
	}
}

func TestSaveAndRestoreQueueState(t *testing.T) {
	s := New(newFakeRepo(), newFakeCache())
	ctx := context.Background()

	if err := s.AddMultipleTracks(ctx, "chan5", []provider.Track{testTrack("1")}, false); err != nil {
		t.Fatalf("AddMultipleTracks: %v", err)
	}
	if err := s.SaveQueueState(ctx, "chan5", "snap1"); err != nil {
		t.Fatalf("SaveQueueState: %v", err)
	}
	if err := s.ClearTracksQueue(ctx, "chan5", false); err != nil {
		t.Fatalf("ClearTracksQueue: %v", err)
	}
	if err := s.RestoreQueueState(ctx, "chan5", "snap1"); err != nil {
		t.Fatalf("RestoreQueueState: %v", err)
	}
	count, err := s.CountMusicTracks(ctx, "chan5", false)
	if err != nil {
		t.Fatalf("CountMusicTracks: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected restored queue to have 1 track, got %d", count)
	}
}

func TestConcurrentSetTrackSameChannelSerializes(t *testing.T) {
	s := New(newFakeRepo(), newFakeCache())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AddMultipleTracks(ctx, "chan6", []provider.Track{testTrack("x")}, false)
		}(i)
	}
	wg.Wait()

	count, err := s.CountMusicTracks(ctx, "chan6", false)
	if err != nil {
		t.Fatalf("CountMusicTracks: %v", err)
	}
	if count != 20 {
		t.Fatalf("expected 20 tracks after concurrent adds, got %d", count)
	}
}
