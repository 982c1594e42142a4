// Package store defines the persistence contracts the audio pipeline
// and playback core consume (spec.md §6): Repository for the four
// logical tables, and KeyValueStore for the cache layer backing
// QueueStore's and ProviderAdapter's per-key caches. Both are
// interfaces so the storage backend stays pluggable (gormstore for
// Postgres, redisstore for Redis), per spec.md's "storage backend is
// pluggable; the core only requires atomic per-row upserts and
// transactional bulk inserts."
package store

import (
	"context"
	"time"
)

// QueuedTrack mirrors spec.md §3's QueuedTrack.
type QueuedTrack struct {
	TrackID     string
	AddedAt     int64 // monotonic epoch ms
	Priority    bool
	Info        string // serialized Track
	Source      string
	RequestedBy *string
}

// QueueRow mirrors spec.md §3's per-guild Queue row (one per
// (channel_id, priority) pair).
type QueueRow struct {
	GuildID     string
	ChannelID   string
	Priority    bool
	LastTrackID *string
	WaveStatus  bool
	Loop        bool
	Volume      *int
}

// Repository is the persistence contract for the four logical tables
// (spec.md §6). Operations that mutate more than one row execute
// within a transaction; idempotent retries are safe.
type Repository interface {
	// UpsertTrack implements set_track's "replace the first track
	// found for this guild, else insert" semantics (spec.md §4.7,
	// §9 open question — gated by ReplaceFirstOnSetTrack upstream).
	UpsertTrack(ctx context.Context, channelID, guildID string, track QueuedTrack, replaceFirst bool) error
	PopFirstTrack(ctx context.Context, channelID string, priority bool) (*QueuedTrack, error)
	ListTracks(ctx context.Context, channelID string, priority bool) ([]QueuedTrack, error)
	RemoveTrack(ctx context.Context, channelID, trackID string) error
	AddTracks(ctx context.Context, channelID string, tracks []QueuedTrack, priority bool) error
	MoveTrack(ctx context.Context, channelID string, from, to int, priority bool) error
	CountTracks(ctx context.Context, channelID string, priority bool) (int, error)
	ClearTracks(ctx context.Context, channelID string, priority bool) error

	GetQueueRow(ctx context.Context, channelID string, priority bool) (*QueueRow, error)
	UpsertChannelBinding(ctx context.Context, guildID, channelID string, priority bool) error
	SetLastTrackID(ctx context.Context, channelID string, trackID *string) error
	ClearQueueRow(ctx context.Context, channelID string, priority bool) error
	GetWaveStatus(ctx context.Context, channelID string) (bool, error)
	SetWaveStatus(ctx context.Context, channelID string, on bool) error

	SaveQueueState(ctx context.Context, channelID, key string, snapshot []byte) error
	RestoreQueueState(ctx context.Context, channelID, key string) ([]byte, error)

	RecordGlobalHistory(ctx context.Context, trackID, info string) error
	RecordUserHistory(ctx context.Context, requestedBy, trackID, info string) error
}

// KeyValueStore is the generic cache contract (spec.md §1: "a
// KeyValueStore for queue persistence"). TTL of zero means no
// expiration.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
