package pipeline

import (
	"fmt"
	"time"

	"github.com/Raikerian/go-voice-pipeline/internal/config"
)

// Strategy selects how echo is mitigated. The gate and the adaptive
// filter are alternatives with different compute and quality
// tradeoffs, never layered.
type Strategy int

const (
	// StrategyNone emits frames untouched.
	StrategyNone Strategy = iota
	// StrategyCorrelationGate drops frames that correlate with recent
	// playback instead of transmitting them.
	StrategyCorrelationGate
	// StrategyAdaptiveFilter subtracts an NLMS echo estimate from each
	// frame.
	StrategyAdaptiveFilter
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyCorrelationGate:
		return "gate"
	case StrategyAdaptiveFilter:
		return "filter"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a config strategy name to its Strategy value.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case config.StrategyNone:
		return StrategyNone, nil
	case config.StrategyGate:
		return StrategyCorrelationGate, nil
	case config.StrategyFilter:
		return StrategyAdaptiveFilter, nil
	default:
		return StrategyNone, fmt.Errorf("unknown strategy %q", name)
	}
}

// Settings is the configuration snapshot the real-time path reads at
// each block boundary. Snapshots are immutable once published; setters
// clone, modify, and swap.
type Settings struct {
	Enabled            bool
	NativeRate         int
	TargetRate         int
	Strategy           Strategy
	GateThreshold      float64
	StepSize           float64
	MinReferenceLevel  float64
	FreezeOnDoubleTalk bool
}

type commandKind int

const (
	commandReference commandKind = iota
	commandReset
	commandShutdown
)

type command struct {
	kind    commandKind
	samples []float32
	playing bool
}

// settings returns the current snapshot.
func (p *Pipeline) settings() *Settings {
	return p.cfg.Load()
}

// swap publishes a modified copy of the current snapshot. The mutex
// serializes concurrent setters so no update is lost between the load
// and the store; the real-time path only ever loads.
func (p *Pipeline) swap(mutate func(*Settings)) {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	next := *p.cfg.Load()
	mutate(&next)
	p.cfg.Store(&next)
}

// Settings returns a copy of the current configuration snapshot. Safe
// to call from any goroutine.
func (p *Pipeline) Settings() Settings {
	return *p.cfg.Load()
}

// SetEnabled starts or stops frame emission. Disabled pipelines still
// consume blocks so the accumulation state stays contiguous.
func (p *Pipeline) SetEnabled(enabled bool) {
	p.swap(func(s *Settings) { s.Enabled = enabled })
}

// SetRates changes the resampling ratio. Both rates must be positive.
func (p *Pipeline) SetRates(nativeRate, targetRate int) error {
	if nativeRate <= 0 || targetRate <= 0 {
		return fmt.Errorf("rates must be positive, got %d/%d", nativeRate, targetRate)
	}
	p.swap(func(s *Settings) {
		s.NativeRate = nativeRate
		s.TargetRate = targetRate
	})
	return nil
}

// SetStrategy selects the echo mitigation strategy for subsequent
// blocks.
func (p *Pipeline) SetStrategy(strategy Strategy) error {
	switch strategy {
	case StrategyNone, StrategyCorrelationGate, StrategyAdaptiveFilter:
	default:
		return fmt.Errorf("unknown strategy %d", strategy)
	}
	p.swap(func(s *Settings) { s.Strategy = strategy })
	return nil
}

// SetGateThreshold changes the correlation cutoff. Must be in (0, 1].
func (p *Pipeline) SetGateThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %g", threshold)
	}
	p.swap(func(s *Settings) { s.GateThreshold = threshold })
	return nil
}

// SetStepSize changes the NLMS adaptation rate. Must be in (0, 2).
func (p *Pipeline) SetStepSize(step float64) error {
	if step <= 0 || step >= 2 {
		return fmt.Errorf("step size must be in (0, 2), got %g", step)
	}
	p.swap(func(s *Settings) { s.StepSize = step })
	return nil
}

// PushReference hands a copy of rendered playback audio to the
// pipeline as echo reference material, along with the current playing
// flag. The send is best-effort; it reports false when the command
// queue is full and the samples were dropped.
func (p *Pipeline) PushReference(samples []float32, playing bool) bool {
	p.playing.Store(playing)
	buf := make([]float32, len(samples))
	copy(buf, samples)
	select {
	case p.cmds <- command{kind: commandReference, samples: buf, playing: playing}:
		return true
	default:
		return false
	}
}

// Reset asks the real-time path to zero all processing state at the
// next block boundary.
func (p *Pipeline) Reset() bool {
	select {
	case p.cmds <- command{kind: commandReset}:
		return true
	default:
		return false
	}
}

// Shutdown asks the real-time path to finish. The next ProcessBlock
// call returns StatusFinished without emitting frames.
func (p *Pipeline) Shutdown() bool {
	select {
	case p.cmds <- command{kind: commandShutdown}:
		return true
	default:
		return false
	}
}

// State assembles a statistics snapshot from the atomics the real-time
// path maintains. Safe to call from any goroutine.
func (p *Pipeline) State() Snapshot {
	return Snapshot{
		ERLE:             loadFloat(&p.erleBits),
		DoubleTalk:       p.doubleTalk.Load(),
		FramesProcessed:  p.framesProcessed.Load(),
		FramesSuppressed: p.framesSuppressed.Load(),
		EchoDetected:     p.echoDetected.Load(),
		AvgProcessTime:   time.Duration(p.avgNanos.Load()),
		Finished:         p.finishedFlag.Load(),
	}
}
