// Package logging provides the structured logger abstraction consumed
// by every component in the audio pipeline. Unlike the teacher's
// pkg/logging, there is no package-level global factory: callers
// receive a Logger at construction time and thread it through, per
// spec.md §9's de-globalization note.
package logging

import "time"

// Logger is the structured logging contract the core depends on. The
// process-level sink (console, file, remote) is an external
// collaborator; this package only defines the shape and one concrete
// zap-backed implementation.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	// WithPipeline returns a logger enriched with a pipeline/component
	// tag, carried on every subsequent call.
	WithPipeline(pipeline string) Logger
	// WithContext returns a logger enriched with additional persistent
	// fields (e.g. guild_id, track_id).
	WithContext(ctx map[string]interface{}) Logger

	Close() error
}

// Fields is a convenience constructor mirroring the teacher's
// CreateContextFields/CreateContextFieldsWithComponent helpers.
func Fields(guildID, trackID, component string) map[string]interface{} {
	f := map[string]interface{}{"timestamp": time.Now()}
	if guildID != "" {
		f["guild_id"] = guildID
	}
	if trackID != "" {
		f["track_id"] = trackID
	}
	if component != "" {
		f["component"] = component
	}
	return f
}
