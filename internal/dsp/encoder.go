// Package dsp implements the real-time signal path of the voice pipeline:
// rate conversion and PCM16 framing, the playback reference buffer, and the
// two echo mitigation strategies (correlation gate and NLMS canceller).
//
// Everything in this package is designed to run inside a fixed-period audio
// callback: no locking, no I/O, and no allocation once the hot path reaches
// steady state. None of the types are safe for concurrent use; the pipeline
// owns them from a single goroutine.
package dsp

import (
	"errors"
	"fmt"
	"math"
)

// Configuration errors rejected synchronously at the control surface.
var (
	ErrInvalidRate         = errors.New("sample rates must be positive")
	ErrInvalidFrameSize    = errors.New("frame size must be positive")
	ErrInvalidFilterLength = errors.New("filter length must be positive")
	ErrInvalidStepSize     = errors.New("step size must be in (0, 2)")
	ErrInvalidThreshold    = errors.New("correlation threshold must be in (0, 1]")
)

// FrameEncoder converts native-rate float samples into fixed-size frames at
// the target rate and quantizes them to 16-bit PCM. Input accumulates in an
// internal buffer that is drained one frame's worth at a time, so arbitrary
// (non-integral) rate ratios work and no samples are dropped or reordered.
type FrameEncoder struct {
	frameSize int
	ratio     float64 // nativeRate / targetRate

	buf []float32 // accumulated native-rate samples
	raw []float32 // reusable resampled frame
	pcm []int16   // reusable quantized frame
}

// NewFrameEncoder creates an encoder producing frameSize samples per frame
// at targetRate from nativeRate input.
func NewFrameEncoder(nativeRate, targetRate, frameSize int) (*FrameEncoder, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size %d: %w", frameSize, ErrInvalidFrameSize)
	}
	e := &FrameEncoder{
		frameSize: frameSize,
		buf:       make([]float32, 0, 8*frameSize),
		raw:       make([]float32, frameSize),
		pcm:       make([]int16, frameSize),
	}
	if err := e.SetRates(nativeRate, targetRate); err != nil {
		return nil, err
	}
	return e, nil
}

// SetRates changes the resampling ratio. Accumulated input is kept; the new
// ratio applies from the next produced frame.
func (e *FrameEncoder) SetRates(nativeRate, targetRate int) error {
	if nativeRate <= 0 || targetRate <= 0 {
		return fmt.Errorf("rates %d/%d: %w", nativeRate, targetRate, ErrInvalidRate)
	}
	e.ratio = float64(nativeRate) / float64(targetRate)
	return nil
}

// Push appends native-rate samples to the accumulation buffer.
func (e *FrameEncoder) Push(input []float32) {
	e.buf = append(e.buf, input...)
}

// Next produces the next frame if enough input has accumulated. The returned
// slice is reused by subsequent calls; the caller owns it only until the next
// Next or Reset. The second return is the frame's RMS level.
func (e *FrameEncoder) Next() ([]float32, float64, bool) {
	consumed := int(e.ratio * float64(e.frameSize))
	if consumed < 1 {
		consumed = 1
	}
	if len(e.buf) < consumed {
		return nil, 0, false
	}

	var sum float64
	for i := 0; i < e.frameSize; i++ {
		pos := float64(i) * e.ratio
		j0 := int(pos)
		j1 := j0 + 1
		if j1 >= len(e.buf) {
			j1 = len(e.buf) - 1
		}
		frac := float32(pos - float64(j0))
		s := e.buf[j0] + (e.buf[j1]-e.buf[j0])*frac
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		e.raw[i] = s
		sum += float64(s) * float64(s)
	}

	// Drop the consumed samples from the front. copy within the same backing
	// array keeps this allocation-free.
	n := copy(e.buf, e.buf[consumed:])
	e.buf = e.buf[:n]

	return e.raw, math.Sqrt(sum / float64(e.frameSize)), true
}

// Quantize converts a float frame to 16-bit PCM using signed-asymmetric
// scaling: negative values map onto [-32768, 0), positive onto [0, 32767].
// The returned slice is reused by subsequent calls.
func (e *FrameEncoder) Quantize(frame []float32) []int16 {
	for i, s := range frame {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			e.pcm[i] = int16(s * 32768)
		} else {
			e.pcm[i] = int16(s * 32767)
		}
	}
	return e.pcm[:len(frame)]
}

// Pending reports how many native-rate samples are waiting in the
// accumulation buffer.
func (e *FrameEncoder) Pending() int {
	return len(e.buf)
}

// FrameSize returns the configured output frame length.
func (e *FrameEncoder) FrameSize() int {
	return e.frameSize
}

// Reset discards accumulated input.
func (e *FrameEncoder) Reset() {
	e.buf = e.buf[:0]
}
