// Package capture provides block sources feeding the processing
// pipeline: a live microphone device and a synthetic tone source.
package capture

import (
	"context"
	"time"

	"github.com/Raikerian/go-voice-pipeline/pkg/tonegen"
)

// BlockSource delivers fixed-size blocks of single-channel float
// samples in [-1, 1] at the native capture rate. ReadBlock fills dst
// completely or returns an error; it blocks until a full block is
// available or ctx is done.
type BlockSource interface {
	ReadBlock(ctx context.Context, dst []float32) error
}

// ToneSource is a paced synthetic source producing a phase-continuous
// sine wave, standing in for a live microphone in tests and demos. It
// delivers blocks on the same schedule a hardware callback would.
type ToneSource struct {
	gen       *tonegen.Generator
	frequency float64
	amplitude float64
	rate      int
	offset    int64
	next      time.Time
}

// NewToneSource creates a tone source at the given frequency and
// capture rate.
func NewToneSource(gen *tonegen.Generator, frequency, amplitude float64, rate int) *ToneSource {
	return &ToneSource{
		gen:       gen,
		frequency: frequency,
		amplitude: amplitude,
		rate:      rate,
	}
}

// ReadBlock fills dst with the next block of the tone, waiting out the
// block period so delivery matches a real capture device.
func (s *ToneSource) ReadBlock(ctx context.Context, dst []float32) error {
	period := time.Duration(float64(len(dst)) / float64(s.rate) * float64(time.Second))
	if s.next.IsZero() {
		s.next = time.Now()
	}

	wait := time.Until(s.next)
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	s.next = s.next.Add(period)

	s.offset += int64(s.gen.Sine(dst, s.frequency, s.amplitude, s.rate, s.offset))
	return nil
}
