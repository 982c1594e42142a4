package logging

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogRecord is the persisted shape of a single log entry, mirroring the
// teacher's models.AudioLog.
type LogRecord struct {
	ID        uuid.UUID
	GuildID   string
	Level     string
	Message   string
	Error     string
	Fields    map[string]interface{}
	Timestamp time.Time
}

// Repository persists log records. Implementations live in
// internal/store; this package only depends on the interface, keeping
// logging free of a storage-layer import.
type Repository interface {
	SaveLog(record *LogRecord) error
}

// DatabaseLogger wraps a ZapLogger and additionally persists every
// entry via Repository, circuit-breaking after repeated failures.
// Adapted from the teacher's pkg/logging/database.go and
// pkg/audio/logger.go AudioLoggerImpl, merged into one DB-backed
// implementation since both did the same console+DB double-write.
type DatabaseLogger struct {
	console    *ZapLogger
	repo       Repository
	guildID    string
	saveToDB   bool
	dbFailures int
}

const maxConsecutiveDBFailures = 5

// NewDatabaseLogger constructs a DatabaseLogger. repo may be nil, in
// which case it behaves exactly like console-only logging.
func NewDatabaseLogger(console *ZapLogger, repo Repository, guildID string, saveToDB bool) *DatabaseLogger {
	return &DatabaseLogger{console: console, repo: repo, guildID: guildID, saveToDB: saveToDB}
}

func (d *DatabaseLogger) Info(msg string, fields map[string]interface{}) {
	d.console.Info(msg, fields)
	d.persist("INFO", msg, nil, fields)
}

func (d *DatabaseLogger) Warn(msg string, fields map[string]interface{}) {
	d.console.Warn(msg, fields)
	d.persist("WARN", msg, nil, fields)
}

func (d *DatabaseLogger) Error(msg string, err error, fields map[string]interface{}) {
	d.console.Error(msg, err, fields)
	d.persist("ERROR", msg, err, fields)
}

func (d *DatabaseLogger) Debug(msg string, fields map[string]interface{}) {
	d.console.Debug(msg, fields)
	d.persist("DEBUG", msg, nil, fields)
}

func (d *DatabaseLogger) WithPipeline(pipeline string) Logger {
	return &DatabaseLogger{
		console:  d.console.WithPipeline(pipeline).(*ZapLogger),
		repo:     d.repo,
		guildID:  d.guildID,
		saveToDB: d.saveToDB,
	}
}

func (d *DatabaseLogger) WithContext(ctx map[string]interface{}) Logger {
	return &DatabaseLogger{
		console:  d.console.WithContext(ctx).(*ZapLogger),
		repo:     d.repo,
		guildID:  d.guildID,
		saveToDB: d.saveToDB,
	}
}

func (d *DatabaseLogger) Close() error { return d.console.Close() }

// persist saves the log entry to the repository, short-circuiting
// after maxConsecutiveDBFailures so a dead database never blocks the
// hot logging path.
func (d *DatabaseLogger) persist(level, msg string, err error, fields map[string]interface{}) {
	if !d.saveToDB || d.repo == nil || d.dbFailures >= maxConsecutiveDBFailures {
		return
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	record := &LogRecord{
		ID:        uuid.New(),
		GuildID:   d.guildID,
		Level:     level,
		Message:   msg,
		Error:     errMsg,
		Fields:    fields,
		Timestamp: time.Now(),
	}

	if saveErr := d.repo.SaveLog(record); saveErr != nil {
		d.dbFailures++
		d.console.logger.Warn("failed to persist log record",
			zap.Error(saveErr),
			zap.Int("consecutive_failures", d.dbFailures),
			zap.String("log_level", level),
		)
		if d.dbFailures >= maxConsecutiveDBFailures {
			d.console.logger.Error("disabling database logging after repeated failures",
				zap.Int("max_failures", maxConsecutiveDBFailures))
		}
		return
	}
	d.dbFailures = 0
}
