package gormstore

import (
	"encoding/json"

	"github.com/latoulicious/voicecast/internal/logging"
	"github.com/latoulicious/voicecast/internal/store/models"
)

// LogRepository implements logging.Repository on top of the same
// *gorm.DB used by Repository, grounded on the teacher's
// pkg/database pattern of one GORM handle shared across DAOs.
type LogRepository struct {
	db interface {
		Create(value interface{}) error
	}
}

// gormCreator adapts *gorm.DB's chainable Create to the minimal
// interface LogRepository needs, keeping this file's import surface
// small.
type gormCreator struct{ repo *Repository }

func (g gormCreator) Create(value interface{}) error {
	return g.repo.db.Create(value).Error
}

// NewLogRepository wraps repo's connection for log persistence.
func NewLogRepository(repo *Repository) *LogRepository {
	return &LogRepository{db: gormCreator{repo: repo}}
}

var _ logging.Repository = (*LogRepository)(nil)

func (l *LogRepository) SaveLog(record *logging.LogRecord) error {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return err
	}
	row := &models.Log{
		ID:        record.ID.String(),
		GuildID:   record.GuildID,
		Level:     record.Level,
		Message:   record.Message,
		Error:     record.Error,
		Fields:    string(fields),
		Timestamp: record.Timestamp,
	}
	return l.db.Create(row)
}
