// Package voicesink defines the VoiceSink interface PlaybackSession
// attaches playable streams to (spec.md §6), plus OpusRelaySink, a
// reference implementation adapted from the teacher's
// pkg/audio/opus.go OpusProcessor: it turns a RawPcm stream into
// Discord-ready 20ms Opus frames and forwards them to an injected
// FrameSink. A real voice-gateway connection is an external
// collaborator (spec.md §1 Non-goals) — FrameSink is its minimal
// consumed surface.
package voicesink

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/latoulicious/voicecast/internal/apperrors"
	"github.com/latoulicious/voicecast/internal/logging"
	"github.com/latoulicious/voicecast/internal/pipeline"
	"layeh.com/gopus"
)

const (
	sampleRate       = 48000
	channels         = 2
	frameSize        = 960 // samples per channel, 20ms at 48kHz
	maxOpusFrameSize = 4000
)

// FrameSink receives encoded Opus frames ready for the voice gateway.
type FrameSink interface {
	SendFrame(frame []byte) error
}

// Handle is returned by Attach. Stop ends the relay and releases the
// guild's attachment slot; Done reports when the relay has ended,
// whether from Stop, stream EOF, or a relay error, so a caller can
// detect natural track completion without polling.
type Handle interface {
	Stop()
	Done() <-chan struct{}
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *handle) Stop() {
	h.cancel()
	<-h.done
}

func (h *handle) Done() <-chan struct{} { return h.done }

// VoiceSink is the interface PlaybackSession consumes (spec.md §6):
// attach(stream, kind) -> playback_handle, with exactly one active
// attachment per guild.
type VoiceSink interface {
	Attach(ctx context.Context, guildID string, stream io.ReadCloser, kind pipeline.Kind) (Handle, error)
}

// OpusRelaySink implements VoiceSink. For RawPcm streams it encodes to
// Opus itself; for OggOpus/WebmOpus it forwards container bytes
// directly to FrameSink, since no container demuxer exists in this
// stack — deployments needing raw-Opus extraction from those
// containers provide a FrameSink that demuxes on receipt.
type OpusRelaySink struct {
	frameSink FrameSink
	logger    logging.Logger
	bitrate   int

	mu     sync.Mutex
	active map[string]*handle
}

// New builds an OpusRelaySink. bitrate is the Opus encoder bitrate in
// bits/sec (spec.md leaves this a deployment knob; teacher's default
// is config-driven too).
func New(frameSink FrameSink, logger logging.Logger, bitrate int) *OpusRelaySink {
	if bitrate <= 0 {
		bitrate = 64000
	}
	return &OpusRelaySink{
		frameSink: frameSink,
		logger:    logger,
		bitrate:   bitrate,
		active:    make(map[string]*handle),
	}
}

func (s *OpusRelaySink) Attach(ctx context.Context, guildID string, stream io.ReadCloser, kind pipeline.Kind) (Handle, error) {
	s.mu.Lock()
	prior := s.active[guildID]
	s.mu.Unlock()
	if prior != nil {
		prior.Stop()
	}

	relayCtx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.active[guildID] = h
	s.mu.Unlock()

	go func() {
		defer close(h.done)
		defer stream.Close()
		defer func() {
			s.mu.Lock()
			if s.active[guildID] == h {
				delete(s.active, guildID)
			}
			s.mu.Unlock()
		}()

		var err error
		switch kind {
		case pipeline.RawPcm:
			err = s.relayPCM(relayCtx, stream)
		default:
			err = s.relayOpaque(relayCtx, stream)
		}
		if err != nil && s.logger != nil {
			s.logger.Error("voicesink relay ended", err, map[string]interface{}{"guild_id": guildID, "kind": string(kind)})
		}
	}()

	return h, nil
}

func (s *OpusRelaySink) relayPCM(ctx context.Context, stream io.Reader) error {
	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return apperrors.New(apperrors.KindPipelineFailed, "OpusRelaySink.relayPCM", err)
	}
	encoder.SetBitrate(s.bitrate)
	encoder.SetVbr(true)

	frameBytes := frameSize * channels * 2 // int16 little-endian samples
	buf := make([]byte, frameBytes)
	pcm := make([]int16, frameSize*channels)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := io.ReadFull(stream, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return apperrors.New(apperrors.KindPipelineFailed, "OpusRelaySink.relayPCM", err)
		}
		for i := range pcm {
			pcm[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
		}
		opusFrame, err := encoder.Encode(pcm, frameSize, maxOpusFrameSize)
		if err != nil {
			return apperrors.New(apperrors.KindPipelineFailed, "OpusRelaySink.relayPCM", err)
		}
		if err := s.frameSink.SendFrame(opusFrame); err != nil {
			return err
		}
	}
}

func (s *OpusRelaySink) relayOpaque(ctx context.Context, stream io.Reader) error {
	buf := make([]byte, maxOpusFrameSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := stream.Read(buf)
		if n > 0 {
			if sendErr := s.frameSink.SendFrame(append([]byte(nil), buf[:n]...)); sendErr != nil {
				return sendErr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return apperrors.New(apperrors.KindPipelineFailed, "OpusRelaySink.relayOpaque", err)
		}
	}
}
