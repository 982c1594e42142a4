package memstore

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	s := New(time.Minute)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k1")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err = s.Get(ctx, "k1")
	if err != nil || ok {
		t.Fatalf("expected miss after delete, ok=%v err=%v", ok, err)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	s := New(time.Minute)
	_, ok, err := s.Get(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
}

func TestNewInitializesLRUWhenTTLNonPositive(t *testing.T) {
	s := New(0)
	if s.lru == nil {
		t.Fatal("expected lru to be initialized")
	}
}
