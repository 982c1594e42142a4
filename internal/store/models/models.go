// Package models defines the GORM row types for the four logical
// tables spec.md §6 fixes: Queue, Tracks, GlobalHistory, UserHistory,
// plus Log for persisted structured-log entries.
// Grounded on the teacher's pkg/database/models package, which lays out
// its audio/character/support rows the same way: plain structs with
// gorm tags, no behavior.
package models

import "time"

// Queue is the per-(channel, priority) queue row.
type Queue struct {
	ID          uint    `gorm:"primaryKey"`
	GuildID     string  `gorm:"index;not null"`
	ChannelID   string  `gorm:"index;not null;index:idx_queue_channel_priority,unique"`
	Priority    bool    `gorm:"not null;index:idx_queue_channel_priority,unique"`
	LastTrackID *string
	WaveStatus  bool
	Loop        bool
	Volume      *int
}

func (Queue) TableName() string { return "queues" }

// Track is one queued track, belonging to a Queue row.
type Track struct {
	ID          uint `gorm:"primaryKey"`
	QueueID     uint `gorm:"index;not null"`
	TrackID     string `gorm:"not null"`
	AddedAt     int64  `gorm:"not null"` // monotonic epoch ms
	Priority    bool   `gorm:"not null"`
	Info        string `gorm:"type:text;not null"` // serialized Track
	Source      string `gorm:"not null"`
	RequestedBy *string
}

func (Track) TableName() string { return "tracks" }

// GlobalHistory records a track play across all guilds, deduplicated by
// track_id with a running play_count.
type GlobalHistory struct {
	ID        uint   `gorm:"primaryKey"`
	TrackID   string `gorm:"uniqueIndex;not null"`
	Info      string `gorm:"type:text;not null"`
	PlayedAt  time.Time
	PlayCount int `gorm:"not null;default:0"`
}

func (GlobalHistory) TableName() string { return "global_history" }

// UserHistory records a track play attributed to the requesting user.
type UserHistory struct {
	ID          uint   `gorm:"primaryKey"`
	RequestedBy string `gorm:"index:idx_user_history_user_track,unique;not null"`
	TrackID     string `gorm:"index:idx_user_history_user_track,unique;not null"`
	Info        string `gorm:"type:text;not null"`
	PlayedAt    time.Time
	PlayCount   int `gorm:"not null;default:0"`
}

func (UserHistory) TableName() string { return "user_history" }

// Log is a persisted structured-log entry, mirroring the teacher's
// models.AudioLog row shape.
type Log struct {
	ID        string `gorm:"primaryKey"`
	GuildID   string `gorm:"index"`
	Level     string `gorm:"not null"`
	Message   string `gorm:"type:text;not null"`
	Error     string `gorm:"type:text"`
	Fields    string `gorm:"type:text"` // JSON-encoded
	Timestamp time.Time
}

func (Log) TableName() string { return "logs" }
