package dsp

import "math"

// Smoothing weights for the running reference level estimate.
const (
	refLevelOld = 0.8
	refLevelNew = 0.2
)

// ReferenceBuffer is a fixed-capacity circular store of recent playback
// audio, used as the echo reference by the gate and the canceller. Capacity
// is fixed at construction; the write cursor overwrites the oldest samples
// when full. Reads are relative to the write cursor and zero-fill anything
// older than what has ever been written.
type ReferenceBuffer struct {
	data    []float32
	pos     int   // next write position
	written int64 // total samples ever written
	level   float64
}

// NewReferenceBuffer creates a buffer holding capacity samples.
func NewReferenceBuffer(capacity int) *ReferenceBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ReferenceBuffer{data: make([]float32, capacity)}
}

// Write appends samples, overwriting the oldest on overflow, and folds the
// call's RMS into the running level estimate.
func (b *ReferenceBuffer) Write(samples []float32) {
	if len(samples) == 0 {
		return
	}
	var sum float64
	for _, s := range samples {
		b.data[b.pos] = s
		b.pos++
		if b.pos == len(b.data) {
			b.pos = 0
		}
		sum += float64(s) * float64(s)
	}
	b.written += int64(len(samples))
	rms := math.Sqrt(sum / float64(len(samples)))
	b.level = refLevelOld*b.level + refLevelNew*rms
}

// Read fills dst with the most recent len(dst) samples.
func (b *ReferenceBuffer) Read(dst []float32) {
	b.ReadAt(dst, 0)
}

// ReadAt fills dst with len(dst) samples ending lag samples before the write
// cursor. Positions never written are zero.
func (b *ReferenceBuffer) ReadAt(dst []float32, lag int) {
	n := len(b.data)
	for i := range dst {
		// Age of this sample relative to the newest one.
		age := int64(lag + len(dst) - 1 - i)
		if age >= b.written || age >= int64(n) {
			dst[i] = 0
			continue
		}
		idx := b.pos - 1 - int(age)
		if idx < 0 {
			idx += n
		}
		dst[i] = b.data[idx]
	}
}

// Level returns the smoothed RMS of recently written reference audio.
// Downstream stages use it as an "is there any reference at all" gate.
func (b *ReferenceBuffer) Level() float64 {
	return b.level
}

// Fill returns how much of the capacity has ever been written, in [0, 1].
func (b *ReferenceBuffer) Fill() float64 {
	if b.written >= int64(len(b.data)) {
		return 1
	}
	return float64(b.written) / float64(len(b.data))
}

// Capacity returns the fixed buffer size in samples.
func (b *ReferenceBuffer) Capacity() int {
	return len(b.data)
}

// Reset zeroes the buffer, cursor and level estimate.
func (b *ReferenceBuffer) Reset() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.pos = 0
	b.written = 0
	b.level = 0
}
