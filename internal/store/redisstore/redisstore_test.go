package redisstore

import (
	"context"
	"os"
	"testing"
	"time"
)

func requireAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("VOICECAST_TEST_REDIS_URL")
	if addr == "" {
		t.Skip("VOICECAST_TEST_REDIS_URL not set, skipping redisstore integration test")
	}
	return addr
}

func TestNewRejectsInvalidURL(t *testing.T) {
	if _, err := New("not a url::"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestSetGetDelete(t *testing.T) {
	addr := requireAddr(t)
	s, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "voicecast:test:key", []byte("value"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "voicecast:test:key")
	if err != nil || !ok || string(v) != "value" {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := s.Delete(ctx, "voicecast:test:key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err = s.Get(ctx, "voicecast:test:key")
	if err != nil || ok {
		t.Fatalf("expected miss after delete, ok=%v err=%v", ok, err)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	addr := requireAddr(t)
	s, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	_, ok, err := s.Get(context.Background(), "voicecast:test:missing-key")
	if err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
}
