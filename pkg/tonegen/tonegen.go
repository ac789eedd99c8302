// Package tonegen provides an explicitly owned signal generator for the
// non-real-time side of the pipeline. Each Generator instance is independent,
// so multiple pipelines can run side by side in tests without shared global
// state.
package tonegen

import (
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of rendered tone tables kept per Generator.
const DefaultCacheSize = 16

type toneKey struct {
	frequency  float64
	amplitude  float64
	sampleRate int
}

// Generator renders sine tones and seeded noise. Full tone periods are
// memoized in an LRU cache so repeated block reads of the same tone do not
// recompute the waveform.
type Generator struct {
	cache *lru.Cache[toneKey, []float32]
}

// New creates a Generator with the given tone-table cache size.
func New(cacheSize int) (*Generator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[toneKey, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tone cache: %w", err)
	}
	return &Generator{cache: cache}, nil
}

// Sine writes n samples of a sine tone starting at sample offset into dst
// and returns the number of samples written. The rendered table covers one
// second of signal and is cached, so the phase is continuous across
// consecutive block reads that advance offset by len(dst).
func (g *Generator) Sine(dst []float32, frequency, amplitude float64, sampleRate int, offset int64) int {
	if sampleRate <= 0 || len(dst) == 0 {
		return 0
	}
	table := g.table(frequency, amplitude, sampleRate)
	for i := range dst {
		dst[i] = table[(offset+int64(i))%int64(len(table))]
	}
	return len(dst)
}

func (g *Generator) table(frequency, amplitude float64, sampleRate int) []float32 {
	key := toneKey{frequency: frequency, amplitude: amplitude, sampleRate: sampleRate}
	if table, ok := g.cache.Get(key); ok {
		return table
	}
	table := make([]float32, sampleRate)
	for i := range table {
		table[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate)))
	}
	g.cache.Add(key, table)
	return table
}

// CacheLen reports how many tone tables are currently cached.
func (g *Generator) CacheLen() int {
	return g.cache.Len()
}

// Noise fills dst with reproducible white noise from a linear congruential
// generator and returns the updated seed. Amplitude bounds the samples to
// [-amplitude, amplitude].
func Noise(dst []float32, amplitude float64, seed uint32) uint32 {
	for i := range dst {
		seed = seed*1103515245 + 12345
		dst[i] = float32((float64(seed)/float64(1<<32) - 0.5) * 2 * amplitude)
	}
	return seed
}
