package audio

import "math"

// minDBFS is the floor reported for silent frames.
const minDBFS = -100.0

// RMS returns the root-mean-square amplitude of samples in [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS converts a linear RMS level to decibels relative to full scale.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return minDBFS
	}
	db := 20 * math.Log10(rms)
	if db < minDBFS {
		return minDBFS
	}
	return db
}
