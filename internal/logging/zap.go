package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements Logger on top of go.uber.org/zap, adapted from
// the teacher's pkg/logging/zap.go ZapLogger: same field-accumulation
// and WithPipeline/WithContext chaining, but constructed explicitly
// rather than resolved through a global factory.
type ZapLogger struct {
	logger    *zap.Logger
	fields    map[string]interface{}
	component string
}

// Config controls the underlying zap encoder/level.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

var levelsByName = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
	"info":  zapcore.InfoLevel,
}

// NewZapLogger builds a production-shaped zap logger for component. At
// debug level sampling is disabled: per-track playback events are low
// enough volume that sampling would silently drop the entries a
// developer turned debug logging on to see.
func NewZapLogger(component string, cfg Config) (*ZapLogger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.MessageKey = "message"
	zcfg.EncoderConfig.LevelKey = "level"

	zcfg.Encoding = "json"
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
	}

	level, ok := levelsByName[cfg.Level]
	if !ok {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if level == zapcore.DebugLevel {
		zcfg.Sampling = nil
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger for component %q: %w", component, err)
	}

	return &ZapLogger{logger: logger, fields: map[string]interface{}{}, component: component}, nil
}

func (z *ZapLogger) Info(msg string, fields map[string]interface{}) {
	z.logger.Info(msg, z.buildFields(fields)...)
}

func (z *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	z.logger.Warn(msg, z.buildFields(fields)...)
}

func (z *ZapLogger) Error(msg string, err error, fields map[string]interface{}) {
	zf := z.buildFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	z.logger.Error(msg, zf...)
}

func (z *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	z.logger.Debug(msg, z.buildFields(fields)...)
}

func (z *ZapLogger) WithPipeline(pipeline string) Logger {
	merged := cloneFields(z.fields)
	merged["pipeline"] = pipeline
	return &ZapLogger{logger: z.logger, fields: merged, component: z.component}
}

func (z *ZapLogger) WithContext(ctx map[string]interface{}) Logger {
	merged := cloneFields(z.fields)
	for k, v := range ctx {
		merged[k] = v
	}
	return &ZapLogger{logger: z.logger, fields: merged, component: z.component}
}

func (z *ZapLogger) Close() error { return z.logger.Sync() }

func cloneFields(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// buildFields merges the logger's persistent fields with the call-site
// fields (call-site wins on key collision) and converts the result to
// zap's typed field representation in one pass.
func (z *ZapLogger) buildFields(fields map[string]interface{}) []zap.Field {
	merged := make(map[string]interface{}, len(z.fields)+len(fields))
	for k, v := range z.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	out := make([]zap.Field, 0, len(merged)+2)
	out = append(out, zap.String("component", z.component), zap.Time("timestamp", time.Now()))
	for k, v := range merged {
		out = append(out, zapField(k, v))
	}
	return out
}

// zapField relies on zap.Any's reflection-based encoder for anything
// that isn't one of the hot-path types logged throughout the playback
// core (string IDs, durations, errors), keeping this switch short
// rather than enumerating every Go kind zap.Any already handles.
func zapField(key string, value interface{}) zap.Field {
	switch v := value.(type) {
	case string:
		return zap.String(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case error:
		return zap.Error(v)
	default:
		return zap.Any(key, v)
	}
}
