// Package dsp implements the AudioProcessor component: a streaming
// byte→byte transform over interleaved stereo signed 16-bit
// little-endian PCM at 48 kHz, applying volume ramping, a bass
// multi-stage filter chain, a treble shelf, a compressor/limiter and
// time-based fades exactly as spec.md §4.2 specifies.
//
// There is no teacher precedent for a per-sample DSP filter chain (the
// teacher delegates all audio transforms to FFmpeg's `-af` filtergraph
// and never processes PCM itself); the thread-safe mutable-settings
// shape below is grounded on the teacher's pkg/audio/opus.go
// OpusProcessor, which guards a similarly hot-path config struct with
// sync.RWMutex. The algorithm is original engineering against the
// written specification (recorded in DESIGN.md).
package dsp

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"
)

const (
	BassMin = -1.0
	BassMax = 1.0

	TrebleMin = -1.0
	TrebleMax = 1.0

	sampleRate  = 48000.0
	bytesPerFrame = 4 // 2 channels * 2 bytes
)

// Fade describes a time-based fade request.
type Fade struct {
	FadeInMs  int
	FadeOutMs int
}

// Options holds the AudioProcessor's settable parameters, mutable at
// runtime via the setter methods below.
type Options struct {
	Volume             float64
	Bass               float64
	Treble             float64
	Compressor         bool
	Normalize          bool
	LowPassFrequency   *float64
	Fade               *Fade
}

// DefaultOptions returns the identity-transform configuration (volume
// 1, no EQ, no compressor) required by testable property 1.
func DefaultOptions() Options {
	return Options{Volume: 1.0}
}

type channelState struct {
	s60, s120, sLP, trebleLP float64
}

// Processor is the streaming AudioProcessor. One instance owns state
// for exactly one PCM stream; it is not safe to share across streams.
type Processor struct {
	mu sync.Mutex

	volumePrev, volumeCurr float64
	bass, treble           float64
	compressor, normalize  bool
	lowPass                *float64

	fadeActive   bool
	fadeFrom     float64
	fadeTo       float64
	fadeDuration time.Duration
	fadeStart    time.Time
	now          func() time.Time

	left, right channelState

	destroyed bool
}

// New constructs a Processor with the given initial options.
func New(opts Options) *Processor {
	p := &Processor{
		volumePrev: opts.Volume,
		volumeCurr: opts.Volume,
		bass:       opts.Bass,
		treble:     opts.Treble,
		compressor: opts.Compressor,
		normalize:  opts.Normalize,
		lowPass:    opts.LowPassFrequency,
		now:        time.Now,
	}
	if opts.Fade != nil {
		if opts.Fade.FadeInMs > 0 {
			p.volumePrev = 0
			p.volumeCurr = 0
			p.startFadeLocked(opts.Volume, time.Duration(opts.Fade.FadeInMs)*time.Millisecond)
		}
	}
	return p
}

// SetVolume sets volume instantaneously; the next buffer interpolates
// linearly from the previous value over its frame count (spec.md §4.2).
func (p *Processor) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fadeActive = false
	p.volumePrev = p.volumeCurr
	p.volumeCurr = v
}

// StartFade begins a time-based fade to target over duration, overriding
// any in-progress volume ramp.
func (p *Processor) StartFade(target float64, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startFadeLocked(target, duration)
}

func (p *Processor) startFadeLocked(target float64, duration time.Duration) {
	p.fadeActive = true
	p.fadeFrom = p.volumeCurr
	p.fadeTo = target
	p.fadeDuration = duration
	p.fadeStart = p.now()
}

// SetEqualizer updates bass, treble and compressor atomically.
func (p *Processor) SetEqualizer(bass, treble float64, compressor bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bass = bass
	p.treble = treble
	p.compressor = compressor
}

func (p *Processor) SetCompressor(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.compressor = on
}

func (p *Processor) SetLowPassFrequency(f *float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lowPass = f
}

var ErrDestroyed = errors.New("dsp: processor destroyed")

// Destroy is idempotent w.r.t. repeated calls (spec.md §4.2).
func (p *Processor) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
}

// Flush is a pass-through (spec.md §4.2: "flush is a pass-through").
func (p *Processor) Flush() []byte { return nil }

// Transform applies the DSP chain to one buffer of interleaved stereo
// s16le PCM. Trailing bytes short of a whole 4-byte frame are
// truncated, including a lone trailing i16 sample. Input is always read
// as stereo-interleaved: there is no mono mode, and no sample is
// duplicated from the left channel into the right.
func (p *Processor) Transform(input []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return nil, ErrDestroyed
	}

	usable := len(input) - (len(input) % bytesPerFrame)
	frameCount := usable / bytesPerFrame
	if frameCount == 0 {
		return []byte{}, nil
	}

	out := make([]byte, usable)

	volStart := p.volumePrev
	volEnd := p.volumeCurr
	if p.fadeActive {
		elapsed := p.now().Sub(p.fadeStart)
		ratio := 0.0
		if p.fadeDuration > 0 {
			ratio = float64(elapsed) / float64(p.fadeDuration)
		}
		ratio = clamp(ratio, 0, 1)
		volEnd = p.fadeFrom + (p.fadeTo-p.fadeFrom)*ratio
	}

	bassNorm := 0.0
	if math.Abs(p.bass) > 1e-9 {
		bassNorm = 2*(p.bass-BassMin)/(BassMax-BassMin) - 1
	}
	applyBass := math.Abs(bassNorm) > 1e-3

	var bassDb, fLp, q float64
	if applyBass {
		bassDb = sign(bassNorm) * math.Sqrt(math.Abs(bassNorm)) * 18
		if bassDb >= 0 {
			fLp = 4000 - (bassDb/18)*110
			q = 0.7 + (bassDb/18)*1.8
		} else {
			fLp = 4000 + (math.Abs(bassDb)/18)*1000
			q = 0.7 - (math.Abs(bassDb)/18)*0.4
		}
	}
	limiterEngaged := applyBass && math.Abs(bassDb) > 6

	trebleNorm := 0.0
	if math.Abs(p.treble) > 1e-9 {
		trebleNorm = 2*(p.treble-TrebleMin)/(TrebleMax-TrebleMin) - 1
	}
	applyTreble := math.Abs(trebleNorm) > 1e-3
	var gTr float64
	if applyTreble {
		gTr = math.Pow(10, (sign(trebleNorm)*math.Sqrt(math.Abs(trebleNorm))*12)/20)
	}

	identityPossible := !applyBass && !applyTreble && !p.compressor

	for i := 0; i < frameCount; i++ {
		base := i * bytesPerFrame
		lRaw := int16(binary.LittleEndian.Uint16(input[base : base+2]))
		var rRaw int16
		if base+4 <= len(input) {
			rRaw = int16(binary.LittleEndian.Uint16(input[base+2 : base+4]))
		} else {
			rRaw = lRaw
		}

		vCurrent := volStart + (volEnd-volStart)*float64(i)/float64(frameCount)

		// Fast path: volume=1, no EQ/compressor — copy the sample through
		// unmodified so the identity transform (property 1) is exact,
		// sidestepping the int16<->float round-trip's asymmetry at the
		// i16 range extremes (-32768 has no positive counterpart).
		if identityPossible && vCurrent == 1.0 {
			binary.LittleEndian.PutUint16(out[base:base+2], uint16(lRaw))
			binary.LittleEndian.PutUint16(out[base+2:base+4], uint16(rRaw))
			continue
		}

		l := float64(lRaw) / 32768.0
		r := float64(rRaw) / 32768.0

		l *= vCurrent
		r *= vCurrent

		if applyBass {
			l = p.applyBassChain(&p.left, l, bassDb, fLp, q, limiterEngaged)
			r = p.applyBassChain(&p.right, r, bassDb, fLp, q, limiterEngaged)
		}

		if applyTreble {
			l = applyTrebleStage(&p.left.trebleLP, l, gTr)
			r = applyTrebleStage(&p.right.trebleLP, r, gTr)
		}

		if p.compressor {
			l = applyCompressor(l)
			r = applyCompressor(r)
		}

		l = clamp(l, -1, 1)
		r = clamp(r, -1, 1)

		binary.LittleEndian.PutUint16(out[base:base+2], uint16(int16(math.Round(l*32767))))
		binary.LittleEndian.PutUint16(out[base+2:base+4], uint16(int16(math.Round(r*32767))))
	}

	p.volumePrev = volEnd
	if !p.fadeActive {
		p.volumeCurr = volEnd
	} else if p.fadeDuration > 0 {
		elapsed := p.now().Sub(p.fadeStart)
		if elapsed >= p.fadeDuration {
			p.fadeActive = false
			p.volumeCurr = p.fadeTo
			p.volumePrev = p.fadeTo
		}
	}

	return out, nil
}

// applyBassChain runs stages A–D of spec.md §4.2 step 2 for one
// channel's sample, given precomputed bassDb/fLp/q for this buffer.
func (p *Processor) applyBassChain(st *channelState, x, bassDb, fLp, q float64, limiterEngaged bool) float64 {
	const alpha60 = 2 * math.Pi * 60 / sampleRate
	const alpha120 = 2 * math.Pi * 120 / sampleRate

	// Stage A: 60 Hz shelf, gain factor 0.7
	st.s60 += alpha60 * (x - st.s60)
	g60 := math.Pow(10, (sign(bassDb)*math.Sqrt(math.Abs(0.7*bassDb))*18)/20)
	y := x + st.s60*(g60-1)

	// Stage B: 120 Hz equalizer, gain factor 0.5
	st.s120 += alpha120 * (y - st.s120)
	g120 := math.Pow(10, (sign(bassDb)*math.Sqrt(math.Abs(0.5*bassDb))*18)/20)
	y = y + st.s120*(g120-1)

	// Stage C: adaptive lowpass
	alpha := 2 * math.Pi * fLp / sampleRate
	qi := math.Min(0.5*q, 0.95)
	st.sLP = st.sLP*(1-alpha*qi) + y*alpha*qi
	y = st.sLP + (y-st.sLP)*(0.3+(q-0.7)*0.2)

	// Stage D: limiter
	if limiterEngaged {
		const threshold = 0.85
		const ratio = 8.0
		if math.Abs(y) > threshold {
			y = sign(y) * (threshold + (math.Abs(y)-threshold)/ratio)
		}
	}

	return y
}

func applyTrebleStage(lpState *float64, x, gTr float64) float64 {
	const alpha = 2 * math.Pi * 4000 / sampleRate
	*lpState += alpha * (x - *lpState)
	hp := x - *lpState
	return x + hp*(gTr-1)
}

func applyCompressor(y float64) float64 {
	const threshold = 0.8
	const ratio = 4.0
	if math.Abs(y) > threshold {
		return sign(y) * (threshold + (math.Abs(y)-threshold)/ratio)
	}
	return y
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	if v > 0 {
		return 1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
