package voicesink

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/latoulicious/voicecast/internal/pipeline"
)

type fakeFrameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeFrameSink) SendFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeFrameSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type closableReader struct {
	io.Reader
	closed bool
}

func (c *closableReader) Close() error {
	c.closed = true
	return nil
}

func silencePCM(frames int) []byte {
	buf := make([]byte, frames*frameSize*channels*2)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], 0)
	}
	return buf
}

func TestAttachEncodesRawPCMToOpusFrames(t *testing.T) {
	sink := &fakeFrameSink{}
	vs := New(sink, nil, 0)
	stream := &closableReader{Reader: newSlowReader(silencePCM(3))}

	h, err := vs.Attach(context.Background(), "guild1", stream, pipeline.RawPcm)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish the stream in time")
	}
	h.Stop()

	if !stream.closed {
		t.Fatal("expected stream to be closed after Stop")
	}
	if sink.count() != 3 {
		t.Fatalf("expected 3 encoded frames, got %d", sink.count())
	}
}

func TestAttachReplacesExistingGuildAttachment(t *testing.T) {
	sink := &fakeFrameSink{}
	vs := New(sink, nil, 0)

	stream1 := &closableReader{Reader: newSlowReader(silencePCM(100))}
	h1, err := vs.Attach(context.Background(), "guild1", stream1, pipeline.RawPcm)
	if err != nil {
		t.Fatalf("Attach 1: %v", err)
	}

	stream2 := &closableReader{Reader: newSlowReader(silencePCM(1))}
	h2, err := vs.Attach(context.Background(), "guild1", stream2, pipeline.RawPcm)
	if err != nil {
		t.Fatalf("Attach 2: %v", err)
	}
	defer h2.Stop()

	if !stream1.closed {
		t.Fatal("expected the first attachment to be stopped when a second one starts")
	}
	_ = h1
}

// slowReader serves its data without delay and then waits 50ms before
// reporting EOF, so an attachment stays live briefly after its data is
// consumed, without relying on a real audio source.
type slowReader struct {
	data []byte
	pos  int
}

func newSlowReader(data []byte) *slowReader { return &slowReader{data: data} }

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		time.Sleep(50 * time.Millisecond)
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
