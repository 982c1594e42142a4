// Package queue implements the QueueStore component (spec.md §4.7):
// per-channel priority/non-priority track queues, channel bindings,
// wave/volume flags, and an LRU/TTL-cached read path backed by
// internal/store. Per-guild mutation serialization mirrors the
// teacher's pkg/common/queue.go MusicQueue, which guards all mutable
// state behind a single mutex per guild; here the critical section is
// keyed by channel_id since every operation in spec.md §4.7 is keyed
// that way.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/latoulicious/voicecast/internal/apperrors"
	"github.com/latoulicious/voicecast/internal/provider"
	"github.com/latoulicious/voicecast/internal/store"
)

const cacheTTL = 600 * time.Second

// Snapshot is the result of get_queue (spec.md §4.7).
type Snapshot struct {
	Tracks      []provider.Track
	LastTrackID *string
	WaveStatus  bool
	Volume      *int
}

// Store is the QueueStore component.
type Store struct {
	repo  store.Repository
	cache store.KeyValueStore

	replaceFirstOnSetTrack bool

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithReplaceFirstOnSetTrack controls set_track's upsert semantics
// (spec.md §9 open question: replace-first vs strict-insert).
func WithReplaceFirstOnSetTrack(v bool) Option {
	return func(s *Store) { s.replaceFirstOnSetTrack = v }
}

// New builds a Store. Default set_track semantics replace the first
// track found for the guild, matching the spec's documented current
// behavior (see DESIGN.md open question 2).
func New(repo store.Repository, cache store.KeyValueStore, opts ...Option) *Store {
	s := &Store{
		repo:                   repo,
		cache:                  cache,
		replaceFirstOnSetTrack: true,
		locks:                  make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) lockFor(channelID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[channelID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[channelID] = m
	}
	return m
}

func (s *Store) withLock(channelID string, fn func() error) error {
	m := s.lockFor(channelID)
	m.Lock()
	defer m.Unlock()
	return fn()
}

func queueCacheKey(channelID string, priority bool) string {
	return fmt.Sprintf("queue_%s_%v", channelID, priority)
}

func (s *Store) invalidate(ctx context.Context, channelID string, priority *bool) {
	if priority == nil {
		s.cache.Delete(ctx, queueCacheKey(channelID, true))
		s.cache.Delete(ctx, queueCacheKey(channelID, false))
		return
	}
	s.cache.Delete(ctx, queueCacheKey(channelID, *priority))
}

func encodeTrack(t provider.Track) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTrack(info string) (provider.Track, error) {
	var t provider.Track
	if err := json.Unmarshal([]byte(info), &t); err != nil {
		return provider.Track{}, err
	}
	return t, nil
}

// SetTrack implements set_track(channel_id, guild_id, track, priority).
func (s *Store) SetTrack(ctx context.Context, channelID, guildID string, track provider.Track, priority bool) error {
	return s.withLock(channelID, func() error {
		info, err := encodeTrack(track)
		if err != nil {
			return err
		}
		qt := store.QueuedTrack{
			TrackID:  track.ID,
			AddedAt:  time.Now().UnixMilli(),
			Priority: priority,
			Info:     info,
			Source:   string(track.Source),
		}
		if err := s.repo.UpsertTrack(ctx, channelID, guildID, qt, s.replaceFirstOnSetTrack); err != nil {
			return err
		}
		p := priority
		s.invalidate(ctx, channelID, &p)
		return nil
	})
}

// GetTrack implements get_track(channel_id): atomically pops the head
// of the non-priority queue.
func (s *Store) GetTrack(ctx context.Context, channelID string) (*provider.Track, error) {
	return s.popTrack(ctx, channelID, false)
}

// PopPriorityTrack atomically pops the head of the priority queue, for
// PlaybackSession.advance()'s "dequeue priority, else non-priority"
// ordering (spec.md §4.8).
func (s *Store) PopPriorityTrack(ctx context.Context, channelID string) (*provider.Track, error) {
	return s.popTrack(ctx, channelID, true)
}

func (s *Store) popTrack(ctx context.Context, channelID string, priority bool) (*provider.Track, error) {
	var result *provider.Track
	err := s.withLock(channelID, func() error {
		qt, err := s.repo.PopFirstTrack(ctx, channelID, priority)
		if err != nil || qt == nil {
			return err
		}
		t, err := decodeTrack(qt.Info)
		if err != nil {
			return err
		}
		result = &t
		p := priority
		s.invalidate(ctx, channelID, &p)
		return nil
	})
	return result, err
}

// GetQueue implements get_queue(channel_id, priority), cached under
// queue_<channel>_<priority>.
func (s *Store) GetQueue(ctx context.Context, channelID string, priority bool) (*Snapshot, error) {
	key := queueCacheKey(channelID, priority)
	if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var snap Snapshot
		if err := json.Unmarshal(cached, &snap); err == nil {
			return &snap, nil
		}
	}

	var snap *Snapshot
	err := s.withLock(channelID, func() error {
		rows, err := s.repo.ListTracks(ctx, channelID, priority)
		if err != nil {
			return err
		}
		tracks := make([]provider.Track, 0, len(rows))
		for _, r := range rows {
			t, err := decodeTrack(r.Info)
			if err != nil {
				continue
			}
			tracks = append(tracks, t)
		}

		row, err := s.repo.GetQueueRow(ctx, channelID, false)
		if err != nil {
			return err
		}
		snap = &Snapshot{Tracks: tracks}
		if row != nil {
			snap.LastTrackID = row.LastTrackID
			snap.WaveStatus = row.WaveStatus
			snap.Volume = row.Volume
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(snap); err == nil {
		s.cache.Set(ctx, key, b, cacheTTL)
	}
	return snap, nil
}

// SetGuildChannelID implements set_guild_channel_id.
func (s *Store) SetGuildChannelID(ctx context.Context, guildID, channelID string, priority bool) error {
	return s.withLock(channelID, func() error {
		if err := s.repo.UpsertChannelBinding(ctx, guildID, channelID, priority); err != nil {
			return err
		}
		p := priority
		s.invalidate(ctx, channelID, &p)
		return nil
	})
}

// SetLastTrackID implements set_last_track_id(channel, id?).
func (s *Store) SetLastTrackID(ctx context.Context, channelID string, trackID *string) error {
	return s.withLock(channelID, func() error {
		if err := s.repo.SetLastTrackID(ctx, channelID, trackID); err != nil {
			return err
		}
		s.invalidate(ctx, channelID, nil)
		return nil
	})
}

// GetLastTrackID implements get_last_track_id(channel).
func (s *Store) GetLastTrackID(ctx context.Context, channelID string) (*string, error) {
	row, err := s.repo.GetQueueRow(ctx, channelID, false)
	if err != nil || row == nil {
		return nil, err
	}
	return row.LastTrackID, nil
}

// ClearQueue implements clear_queue: deletes tracks and nullifies
// last_track_id, retains wave_status and volume.
func (s *Store) ClearQueue(ctx context.Context, channelID string, priority bool) error {
	return s.withLock(channelID, func() error {
		if err := s.repo.ClearQueueRow(ctx, channelID, priority); err != nil {
			return err
		}
		p := priority
		s.invalidate(ctx, channelID, &p)
		return nil
	})
}

// ClearTracksQueue implements clear_tracks_queue: deletes only tracks,
// retains last_track_id and wave_status.
func (s *Store) ClearTracksQueue(ctx context.Context, channelID string, priority bool) error {
	return s.withLock(channelID, func() error {
		if err := s.repo.ClearTracks(ctx, channelID, priority); err != nil {
			return err
		}
		p := priority
		s.invalidate(ctx, channelID, &p)
		return nil
	})
}

// GetWaveStatus implements get_wave_status.
func (s *Store) GetWaveStatus(ctx context.Context, channelID string) (bool, error) {
	return s.repo.GetWaveStatus(ctx, channelID)
}

// SetWaveStatus implements set_wave_status.
func (s *Store) SetWaveStatus(ctx context.Context, channelID string, on bool) error {
	return s.withLock(channelID, func() error {
		if err := s.repo.SetWaveStatus(ctx, channelID, on); err != nil {
			return err
		}
		s.invalidate(ctx, channelID, nil)
		return nil
	})
}

// CountMusicTracks implements count_music_tracks.
func (s *Store) CountMusicTracks(ctx context.Context, channelID string, priority bool) (int, error) {
	return s.repo.CountTracks(ctx, channelID, priority)
}

// RemoveTrack implements remove_track(channel, track_id). The caller
// doesn't know which priority lane holds the track, so both cache
// variants are invalidated.
func (s *Store) RemoveTrack(ctx context.Context, channelID, trackID string) error {
	return s.withLock(channelID, func() error {
		if err := s.repo.RemoveTrack(ctx, channelID, trackID); err != nil {
			return err
		}
		s.invalidate(ctx, channelID, nil)
		return nil
	})
}

// AddMultipleTracks implements add_multiple_tracks (bulk insert).
func (s *Store) AddMultipleTracks(ctx context.Context, channelID string, tracks []provider.Track, priority bool) error {
	if len(tracks) == 0 {
		return nil
	}
	return s.withLock(channelID, func() error {
		rows := make([]store.QueuedTrack, len(tracks))
		now := time.Now().UnixMilli()
		for i, t := range tracks {
			info, err := encodeTrack(t)
			if err != nil {
				return err
			}
			rows[i] = store.QueuedTrack{TrackID: t.ID, AddedAt: now + int64(i), Priority: priority, Info: info, Source: string(t.Source)}
		}
		if err := s.repo.AddTracks(ctx, channelID, rows, priority); err != nil {
			return err
		}
		p := priority
		s.invalidate(ctx, channelID, &p)
		return nil
	})
}

// MoveTrack implements move_track(channel, from, to, priority).
func (s *Store) MoveTrack(ctx context.Context, channelID string, from, to int, priority bool) error {
	return s.withLock(channelID, func() error {
		if err := s.repo.MoveTrack(ctx, channelID, from, to, priority); err != nil {
			return err
		}
		p := priority
		s.invalidate(ctx, channelID, &p)
		return nil
	})
}

// stateSnapshot is the opaque blob save_queue_state/restore_queue_state
// exchange with the repository.
type stateSnapshot struct {
	PriorityTracks []store.QueuedTrack
	RegularTracks  []store.QueuedTrack
	LastTrackID    *string
	WaveStatus     bool
}

// SaveQueueState implements save_queue_state(channel, key): an opaque
// snapshot of both priority layers.
func (s *Store) SaveQueueState(ctx context.Context, channelID, key string) error {
	return s.withLock(channelID, func() error {
		priorityRows, err := s.repo.ListTracks(ctx, channelID, true)
		if err != nil {
			return err
		}
		regularRows, err := s.repo.ListTracks(ctx, channelID, false)
		if err != nil {
			return err
		}
		row, err := s.repo.GetQueueRow(ctx, channelID, false)
		if err != nil {
			return err
		}
		snap := stateSnapshot{PriorityTracks: priorityRows, RegularTracks: regularRows}
		if row != nil {
			snap.LastTrackID = row.LastTrackID
			snap.WaveStatus = row.WaveStatus
		}
		b, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return s.repo.SaveQueueState(ctx, channelID, key, b)
	})
}

// RestoreQueueState implements restore_queue_state(channel, key).
func (s *Store) RestoreQueueState(ctx context.Context, channelID, key string) error {
	return s.withLock(channelID, func() error {
		b, err := s.repo.RestoreQueueState(ctx, channelID, key)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			return apperrors.New(apperrors.KindInvariantViolation, "queue.RestoreQueueState", fmt.Errorf("no snapshot for key %q", key))
		}
		var snap stateSnapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			return err
		}

		if err := s.repo.ClearTracks(ctx, channelID, true); err != nil {
			return err
		}
		if err := s.repo.ClearTracks(ctx, channelID, false); err != nil {
			return err
		}
		if len(snap.PriorityTracks) > 0 {
			if err := s.repo.AddTracks(ctx, channelID, snap.PriorityTracks, true); err != nil {
				return err
			}
		}
		if len(snap.RegularTracks) > 0 {
			if err := s.repo.AddTracks(ctx, channelID, snap.RegularTracks, false); err != nil {
				return err
			}
		}
		if err := s.repo.SetLastTrackID(ctx, channelID, snap.LastTrackID); err != nil {
			return err
		}
		if err := s.repo.SetWaveStatus(ctx, channelID, snap.WaveStatus); err != nil {
			return err
		}
		s.invalidate(ctx, channelID, nil)
		return nil
	})
}
