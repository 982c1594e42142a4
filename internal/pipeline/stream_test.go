package pipeline

import (
	"bytes"
	"io"
	"testing"

	"github.com/latoulicious/voicecast/internal/dsp"
)

// chunkedReader replays a fixed sequence of reads, one slice per call,
// to simulate an OS pipe handing back arbitrary-length chunks that
// don't align to the 4-byte stereo frame boundary.
type chunkedReader struct {
	chunks [][]byte
	i      int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.i])
	r.i++
	return n, nil
}

func (r *chunkedReader) Close() error { return nil }

func TestProcessedStreamCarriesSubFrameRemainderAcrossReads(t *testing.T) {
	// 4 whole frames (16 bytes) split across reads at non-frame-aligned
	// boundaries: 3, 5, 8 bytes.
	whole := make([]byte, 16)
	for i := range whole {
		whole[i] = byte(i + 1)
	}
	upstream := &chunkedReader{chunks: [][]byte{
		whole[0:3],
		whole[3:8],
		whole[8:16],
	}}

	s := &processedStream{
		upstream:  upstream,
		processor: dsp.New(dsp.DefaultOptions()),
	}

	var got []byte
	buf := make([]byte, 32)
	for {
		n, err := s.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			if err != io.EOF {
				t.Fatalf("unexpected error: %v", err)
			}
			break
		}
	}

	if !bytes.Equal(got, whole) {
		t.Fatalf("expected reassembled identity-transformed output %v, got %v", whole, got)
	}
}
