// Package gormstore implements store.Repository on top of GORM and
// Postgres, grounded on the teacher's pkg/database/postgresql.go
// connection setup and pkg/database/repository's per-entity CRUD
// shape.
package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/latoulicious/voicecast/internal/apperrors"
	"github.com/latoulicious/voicecast/internal/store"
	"github.com/latoulicious/voicecast/internal/store/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// New opens a Postgres connection and returns a *Repository, running
// the auto-migration for the four spec.md §6 tables plus the logs
// table.
func New(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("gormstore: dsn is not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.Queue{}, &models.Track{}, &models.GlobalHistory{}, &models.UserHistory{}, &models.Log{}); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Reset drops every table in the current schema, mirroring the
// teacher's migration CLI's session_replication_role-guarded CASCADE
// drop. It is destructive and intended for the migrate CLI's --reset
// flag, not for runtime use.
func Reset(dsn string) error {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return err
	}
	if err := db.Exec("SET session_replication_role = 'replica'").Error; err != nil {
		return err
	}
	err = db.Exec(`
		DO $$ DECLARE
		r RECORD;
		BEGIN
			FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = current_schema()) LOOP
				EXECUTE 'DROP TABLE IF EXISTS ' || quote_ident(r.tablename) || ' CASCADE';
			END LOOP;
		END $$;
	`).Error
	if resetErr := db.Exec("SET session_replication_role = 'origin'").Error; resetErr != nil && err == nil {
		err = resetErr
	}
	return err
}

// Repository implements store.Repository.
type Repository struct {
	db *gorm.DB
}

var _ store.Repository = (*Repository)(nil)

func (r *Repository) queueRow(ctx context.Context, channelID string, priority bool) (*models.Queue, error) {
	var q models.Queue
	err := r.db.WithContext(ctx).Where("channel_id = ? AND priority = ?", channelID, priority).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *Repository) UpsertTrack(ctx context.Context, channelID, guildID string, qt store.QueuedTrack, replaceFirst bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q models.Queue
		err := tx.Where("channel_id = ? AND priority = ?", channelID, qt.Priority).First(&q).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			q = models.Queue{GuildID: guildID, ChannelID: channelID, Priority: qt.Priority}
			if err := tx.Create(&q).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		row := models.Track{
			QueueID: q.ID, TrackID: qt.TrackID, AddedAt: qt.AddedAt,
			Priority: qt.Priority, Info: qt.Info, Source: qt.Source, RequestedBy: qt.RequestedBy,
		}

		if replaceFirst {
			var existing models.Track
			err := tx.Where("queue_id = ?", q.ID).Order("added_at ASC").First(&existing).Error
			if err == nil {
				row.ID = existing.ID
				return tx.Save(&row).Error
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		return tx.Create(&row).Error
	})
}

func (r *Repository) PopFirstTrack(ctx context.Context, channelID string, priority bool) (*store.QueuedTrack, error) {
	var result *store.QueuedTrack
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := r.queueRowTx(tx, channelID, priority)
		if err != nil || q == nil {
			return err
		}
		var t models.Track
		err = tx.Where("queue_id = ?", q.ID).Order("added_at ASC").First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&t).Error; err != nil {
			return err
		}
		result = &store.QueuedTrack{TrackID: t.TrackID, AddedAt: t.AddedAt, Priority: t.Priority, Info: t.Info, Source: t.Source, RequestedBy: t.RequestedBy}
		return nil
	})
	return result, err
}

func (r *Repository) queueRowTx(tx *gorm.DB, channelID string, priority bool) (*models.Queue, error) {
	var q models.Queue
	err := tx.Where("channel_id = ? AND priority = ?", channelID, priority).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *Repository) ListTracks(ctx context.Context, channelID string, priority bool) ([]store.QueuedTrack, error) {
	q, err := r.queueRow(ctx, channelID, priority)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, nil
	}
	var rows []models.Track
	if err := r.db.WithContext(ctx).Where("queue_id = ?", q.ID).Order("added_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.QueuedTrack, len(rows))
	for i, t := range rows {
		out[i] = store.QueuedTrack{TrackID: t.TrackID, AddedAt: t.AddedAt, Priority: t.Priority, Info: t.Info, Source: t.Source, RequestedBy: t.RequestedBy}
	}
	return out, nil
}

func (r *Repository) RemoveTrack(ctx context.Context, channelID, trackID string) error {
	return r.db.WithContext(ctx).
		Where("track_id = ? AND queue_id IN (SELECT id FROM queues WHERE channel_id = ?)", trackID, channelID).
		Delete(&models.Track{}).Error
}

func (r *Repository) AddTracks(ctx context.Context, channelID string, tracks []store.QueuedTrack, priority bool) error {
	if len(tracks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := r.queueRowTx(tx, channelID, priority)
		if err != nil {
			return err
		}
		if q == nil {
			return apperrors.New(apperrors.KindInvariantViolation, "gormstore.AddTracks", errors.New("no queue row bound for channel"))
		}
		rows := make([]models.Track, len(tracks))
		for i, qt := range tracks {
			rows[i] = models.Track{QueueID: q.ID, TrackID: qt.TrackID, AddedAt: qt.AddedAt, Priority: priority, Info: qt.Info, Source: qt.Source, RequestedBy: qt.RequestedBy}
		}
		return tx.Create(&rows).Error
	})
}

func (r *Repository) MoveTrack(ctx context.Context, channelID string, from, to int, priority bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := r.queueRowTx(tx, channelID, priority)
		if err != nil || q == nil {
			return err
		}
		var rows []models.Track
		if err := tx.Where("queue_id = ?", q.ID).Order("added_at ASC").Find(&rows).Error; err != nil {
			return err
		}
		if from < 0 || from >= len(rows) || to < 0 || to >= len(rows) {
			return apperrors.New(apperrors.KindInvariantViolation, "gormstore.MoveTrack", errors.New("index out of range"))
		}
		moved := rows[from]
		rows = append(rows[:from], rows[from+1:]...)
		rows = append(rows[:to], append([]models.Track{moved}, rows[to:]...)...)
		for i := range rows {
			rows[i].AddedAt = int64(i)
			if err := tx.Model(&models.Track{}).Where("id = ?", rows[i].ID).Update("added_at", rows[i].AddedAt).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) CountTracks(ctx context.Context, channelID string, priority bool) (int, error) {
	q, err := r.queueRow(ctx, channelID, priority)
	if err != nil || q == nil {
		return 0, err
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Track{}).Where("queue_id = ?", q.ID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *Repository) ClearTracks(ctx context.Context, channelID string, priority bool) error {
	q, err := r.queueRow(ctx, channelID, priority)
	if err != nil || q == nil {
		return err
	}
	return r.db.WithContext(ctx).Where("queue_id = ?", q.ID).Delete(&models.Track{}).Error
}

func (r *Repository) GetQueueRow(ctx context.Context, channelID string, priority bool) (*store.QueueRow, error) {
	q, err := r.queueRow(ctx, channelID, priority)
	if err != nil || q == nil {
		return nil, err
	}
	return &store.QueueRow{GuildID: q.GuildID, ChannelID: q.ChannelID, Priority: q.Priority, LastTrackID: q.LastTrackID, WaveStatus: q.WaveStatus, Loop: q.Loop, Volume: q.Volume}, nil
}

func (r *Repository) UpsertChannelBinding(ctx context.Context, guildID, channelID string, priority bool) error {
	q, err := r.queueRow(ctx, channelID, priority)
	if err != nil {
		return err
	}
	if q != nil {
		return r.db.WithContext(ctx).Model(q).Update("guild_id", guildID).Error
	}
	return r.db.WithContext(ctx).Create(&models.Queue{GuildID: guildID, ChannelID: channelID, Priority: priority}).Error
}

func (r *Repository) SetLastTrackID(ctx context.Context, channelID string, trackID *string) error {
	return r.db.WithContext(ctx).Model(&models.Queue{}).Where("channel_id = ? AND priority = ?", channelID, false).Update("last_track_id", trackID).Error
}

func (r *Repository) ClearQueueRow(ctx context.Context, channelID string, priority bool) error {
	q, err := r.queueRow(ctx, channelID, priority)
	if err != nil || q == nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("queue_id = ?", q.ID).Delete(&models.Track{}).Error; err != nil {
			return err
		}
		return tx.Model(q).Update("last_track_id", nil).Error
	})
}

func (r *Repository) GetWaveStatus(ctx context.Context, channelID string) (bool, error) {
	q, err := r.queueRow(ctx, channelID, false)
	if err != nil || q == nil {
		return false, err
	}
	return q.WaveStatus, nil
}

func (r *Repository) SetWaveStatus(ctx context.Context, channelID string, on bool) error {
	return r.db.WithContext(ctx).Model(&models.Queue{}).Where("channel_id = ? AND priority = ?", channelID, false).Update("wave_status", on).Error
}

// snapshotStash is a process-local fallback for SaveQueueState when no
// dedicated snapshot table is warranted; spec.md leaves the snapshot
// format opaque to the core.
var snapshotStash = map[string][]byte{}

func (r *Repository) SaveQueueState(ctx context.Context, channelID, key string, snapshot []byte) error {
	snapshotStash[channelID+"/"+key] = snapshot
	return nil
}

func (r *Repository) RestoreQueueState(ctx context.Context, channelID, key string) ([]byte, error) {
	return snapshotStash[channelID+"/"+key], nil
}

func (r *Repository) RecordGlobalHistory(ctx context.Context, trackID, info string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var h models.GlobalHistory
		err := tx.Where("track_id = ?", trackID).First(&h).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.GlobalHistory{TrackID: trackID, Info: info, PlayedAt: now(), PlayCount: 1}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&h).Updates(map[string]interface{}{"play_count": h.PlayCount + 1, "played_at": now(), "info": info}).Error
	})
}

func (r *Repository) RecordUserHistory(ctx context.Context, requestedBy, trackID, info string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var h models.UserHistory
		err := tx.Where("requested_by = ? AND track_id = ?", requestedBy, trackID).First(&h).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.UserHistory{RequestedBy: requestedBy, TrackID: trackID, Info: info, PlayedAt: now(), PlayCount: 1}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&h).Updates(map[string]interface{}{"play_count": h.PlayCount + 1, "played_at": now(), "info": info}).Error
	})
}

func now() time.Time { return time.Now() }
