package dsp

import "math"

// Correlation gate defaults. The max lag covers typical playback-to-mic
// latency; the stride keeps the lag search cheap enough for the callback.
const (
	DefaultGateWindow = 256
	DefaultGateStride = 4
	DefaultGateMaxLag = 150 // milliseconds
	DefaultGateMinRef = 0.001
	DefaultGateCutoff = 0.55
	gateVarianceFloor = 1e-6
)

// CorrelationGate is the lightweight, non-adaptive echo detector. It scores
// each frame by its maximum normalized cross-correlation against recent
// playback audio over a range of lags; frames scoring above the threshold
// are dominated by speaker echo and should not be transmitted.
type CorrelationGate struct {
	ref       *ReferenceBuffer
	window    int
	maxLag    int // samples
	stride    int
	threshold float64
	minRef    float64

	inWin  []float32 // mean-centered input window scratch
	refWin []float32 // reference window scratch
}

// NewCorrelationGate creates a gate reading its reference from ref. maxLag
// is in samples at the target rate.
func NewCorrelationGate(ref *ReferenceBuffer, window, maxLag, stride int, threshold, minRef float64) (*CorrelationGate, error) {
	if window <= 0 {
		window = DefaultGateWindow
	}
	if stride <= 0 {
		stride = DefaultGateStride
	}
	if maxLag < 0 {
		maxLag = 0
	}
	g := &CorrelationGate{
		ref:    ref,
		window: window,
		maxLag: maxLag,
		stride: stride,
		minRef: minRef,
		inWin:  make([]float32, window),
		refWin: make([]float32, window),
	}
	if err := g.SetThreshold(threshold); err != nil {
		return nil, err
	}
	return g, nil
}

// SetThreshold changes the echo decision threshold.
func (g *CorrelationGate) SetThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return ErrInvalidThreshold
	}
	g.threshold = threshold
	return nil
}

// Threshold returns the current decision threshold.
func (g *CorrelationGate) Threshold() float64 {
	return g.threshold
}

// Correlation returns the maximum absolute normalized cross-correlation of
// frame against the reference buffer across the lag search range. It is 0
// when playback is inactive, when the reference level is below the minimum
// (no reference means no echo is possible), or when the input window is near
// silent.
func (g *CorrelationGate) Correlation(frame []float32, playing bool) float64 {
	if !playing || g.ref.Level() < g.minRef {
		return 0
	}

	w := g.window
	if w > len(frame) {
		w = len(frame)
	}
	if w == 0 {
		return 0
	}

	var mean float64
	for _, s := range frame[:w] {
		mean += float64(s)
	}
	mean /= float64(w)

	var inVar float64
	for i, s := range frame[:w] {
		c := float64(s) - mean
		g.inWin[i] = float32(c)
		inVar += c * c
	}
	if inVar < gateVarianceFloor {
		return 0
	}

	var maxCorr float64
	for lag := 0; lag <= g.maxLag; lag += g.stride {
		g.ref.ReadAt(g.refWin[:w], lag)

		var refMean float64
		for _, s := range g.refWin[:w] {
			refMean += float64(s)
		}
		refMean /= float64(w)

		var dot, refVar float64
		for i, s := range g.refWin[:w] {
			c := float64(s) - refMean
			dot += float64(g.inWin[i]) * c
			refVar += c * c
		}
		if refVar < gateVarianceFloor {
			continue
		}

		corr := math.Abs(dot / math.Sqrt(inVar*refVar))
		if corr > maxCorr {
			maxCorr = corr
		}
	}
	return maxCorr
}

// IsEcho reports whether a correlation score marks the frame as echo.
func (g *CorrelationGate) IsEcho(correlation float64) bool {
	return correlation > g.threshold
}

// MaxLagSamples converts a lag in milliseconds to samples at rate.
func MaxLagSamples(lagMs, rate int) int {
	return lagMs * rate / 1000
}
