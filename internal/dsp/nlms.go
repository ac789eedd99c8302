package dsp

import "math"

// NLMS parameters.
const (
	DefaultFilterLength = 512
	DefaultStepSize     = 0.5

	// Per-sample smoothing of the reference power estimate.
	powerOld = 0.95
	powerNew = 0.05

	// ERLE smoothing across blocks.
	erleOld = 0.9
	erleNew = 0.1

	// Floor for the normalized step divisor; prevents step blow-up when the
	// reference goes silent.
	powerEpsilon = 1e-6
)

// EchoCanceller is a Normalized-LMS adaptive filter estimating the acoustic
// echo path from the playback reference and subtracting the estimate from
// the microphone signal. Coefficients start at zero and adapt per sample;
// the canonical loop is filter-then-adapt (see Process).
type EchoCanceller struct {
	taps int
	step float64

	coeffs []float64

	// Circular reference history. Sized taps+block so the update pass still
	// sees every delayed reference vector after a whole block has been
	// pushed; it grows (once) if a larger block arrives.
	history []float32
	pos     int // next write position

	power float64 // smoothed reference power

	erle       float64
	doubleTalk bool
	freeze     bool // freeze adaptation during double-talk

	est []float32 // echo estimate scratch
}

// NewEchoCanceller creates a canceller with an FIR filter of taps
// coefficients and NLMS step size step.
func NewEchoCanceller(taps int, step float64) (*EchoCanceller, error) {
	if taps <= 0 {
		return nil, ErrInvalidFilterLength
	}
	c := &EchoCanceller{
		taps:    taps,
		coeffs:  make([]float64, taps),
		history: make([]float32, 2*taps),
	}
	if err := c.SetStepSize(step); err != nil {
		return nil, err
	}
	return c, nil
}

// SetStepSize changes the NLMS step size mu.
func (c *EchoCanceller) SetStepSize(step float64) error {
	if step <= 0 || step >= 2 {
		return ErrInvalidStepSize
	}
	c.step = step
	return nil
}

// SetFreezeOnDoubleTalk controls whether coefficient adaptation pauses while
// the double-talk heuristic is raised. Off by default: the flag is exported
// as telemetry either way.
func (c *EchoCanceller) SetFreezeOnDoubleTalk(freeze bool) {
	c.freeze = freeze
}

// ensure grows the scratch buffers for blocks of n samples. Steady state
// never reallocates.
func (c *EchoCanceller) ensure(n int) {
	if len(c.est) < n {
		c.est = make([]float32, n)
	}
	if need := c.taps + n; len(c.history) < need {
		grown := make([]float32, need)
		// Preserve the most recent taps samples in order.
		for k := 0; k < c.taps; k++ {
			idx := c.pos - 1 - k
			if idx < 0 {
				idx += len(c.history)
			}
			grown[c.taps-1-k] = c.history[idx]
		}
		c.history = grown
		c.pos = c.taps
	}
}

// Filter pushes ref into the circular history and writes the echo estimate
// for each sample into est: the dot product of the coefficients with the
// most recent taps reference samples.
func (c *EchoCanceller) Filter(ref, est []float32) {
	c.ensure(len(ref))
	h := len(c.history)
	for i, s := range ref {
		c.history[c.pos] = s
		c.pos++
		if c.pos == h {
			c.pos = 0
		}
		var sum float64
		idx := c.pos - 1
		for k := 0; k < c.taps; k++ {
			if idx < 0 {
				idx += h
			}
			sum += c.coeffs[k] * float64(c.history[idx])
			idx--
		}
		est[i] = float32(sum)
	}
}

// Update runs the NLMS coefficient update for a block already pushed through
// Filter. ref and errs are the same block and its error signal.
func (c *EchoCanceller) Update(ref, errs []float32) {
	n := len(ref)
	h := len(c.history)
	for i := 0; i < n; i++ {
		r := float64(ref[i])
		c.power = powerOld*c.power + powerNew*r*r

		norm := c.step / (c.power*float64(c.taps) + powerEpsilon)
		e := norm * float64(errs[i])

		// Position of ref[i] in the history: the cursor is n-i-1 pushes
		// ahead of it.
		idx := c.pos - (n - i)
		if idx < 0 {
			idx += h
		}
		for k := 0; k < c.taps; k++ {
			c.coeffs[k] += e * float64(c.history[idx])
			idx--
			if idx < 0 {
				idx += h
			}
		}
	}
}

// Process runs one block through the filter-then-adapt loop:
// estimate = Filter(ref); out = mic - estimate; Update(ref, out).
// It also refreshes the block metrics (ERLE, double-talk).
func (c *EchoCanceller) Process(mic, ref, out []float32) {
	c.ensure(len(ref))
	est := c.est[:len(ref)]

	c.Filter(ref, est)

	var inPower, outPower, refPower float64
	for i := range mic {
		out[i] = mic[i] - est[i]
		inPower += float64(mic[i]) * float64(mic[i])
		outPower += float64(out[i]) * float64(out[i])
		refPower += float64(ref[i]) * float64(ref[i])
	}
	n := float64(len(mic))
	inPower /= n
	outPower /= n
	refPower /= n

	// Heuristic: near-end speech present when the residual keeps more than
	// half the reference energy.
	c.doubleTalk = outPower > 0.5*refPower

	if inPower > 0 && outPower > 0 {
		erle := 10 * math.Log10(inPower/outPower)
		c.erle = erleOld*c.erle + erleNew*erle
	}

	if !(c.freeze && c.doubleTalk) {
		c.Update(ref, out)
	}
}

// ERLE returns the smoothed echo return loss enhancement in dB.
func (c *EchoCanceller) ERLE() float64 {
	return c.erle
}

// DoubleTalk reports the last block's double-talk heuristic.
func (c *EchoCanceller) DoubleTalk() bool {
	return c.doubleTalk
}

// Taps returns the filter length.
func (c *EchoCanceller) Taps() int {
	return c.taps
}

// Reset zeroes coefficients, history and power estimate, making the
// canceller behave exactly like a freshly constructed instance.
func (c *EchoCanceller) Reset() {
	for i := range c.coeffs {
		c.coeffs[i] = 0
	}
	for i := range c.history {
		c.history[i] = 0
	}
	c.pos = 0
	c.power = 0
	c.erle = 0
	c.doubleTalk = false
}
