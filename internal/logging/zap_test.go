package logging

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(t *testing.T, component string) (*ZapLogger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	return &ZapLogger{logger: zap.New(core), fields: map[string]interface{}{}, component: component}, logs
}

func TestWithContextOverridesPersistentFieldsOnCollision(t *testing.T) {
	base, logs := newObservedLogger(t, "session")
	withGuild := base.WithContext(map[string]interface{}{"guild_id": "g1"}).(*ZapLogger)
	withGuild.Info("enqueued", map[string]interface{}{"guild_id": "g2"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	got, ok := entries[0].ContextMap()["guild_id"]
	if !ok || got != "g2" {
		t.Fatalf("expected call-site guild_id to win, got %v", got)
	}
}

func TestErrorFieldIsAttachedOnce(t *testing.T) {
	base, logs := newObservedLogger(t, "pipeline")
	base.Error("transcode failed", errors.New("boom"), map[string]interface{}{"track_id": "t1"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["error"] != "boom" {
		t.Fatalf("expected error field %q, got %v", "boom", ctx["error"])
	}
	if ctx["track_id"] != "t1" {
		t.Fatalf("expected track_id field, got %v", ctx["track_id"])
	}
}

func TestNewZapLoggerDisablesSamplingAtDebugLevel(t *testing.T) {
	l, err := NewZapLogger("test", Config{Level: "debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()
	if l.logger.Core().Enabled(zapcore.DebugLevel) != true {
		t.Fatalf("expected debug level enabled")
	}
	if coreType := fmt.Sprintf("%T", l.logger.Core()); strings.Contains(coreType, "sampler") {
		t.Fatalf("expected sampling disabled at debug level, core is %s", coreType)
	}
}
