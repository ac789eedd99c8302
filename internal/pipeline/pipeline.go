// Package pipeline orchestrates the real-time voice processing chain:
// resampling and framing, echo mitigation, and the lock-free control
// and telemetry surfaces around them.
package pipeline

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Raikerian/go-voice-pipeline/internal/config"
	"github.com/Raikerian/go-voice-pipeline/internal/dsp"
	"github.com/Raikerian/go-voice-pipeline/pkg/audio"
)

// Status is the result of one real-time invocation.
type Status int

const (
	// StatusOK means the block was consumed and the pipeline keeps
	// running.
	StatusOK Status = iota
	// StatusFinished means a shutdown command was observed; the host
	// should stop invoking the pipeline.
	StatusFinished
)

// Frame is one processed output frame. PCM points into a buffer owned
// by the pipeline and is only valid until the emit callback returns;
// consumers that hold on to it must copy. Level is the RMS of the
// signal actually emitted, in dBFS, so on the adaptive-filter path it
// reflects the residual after cancellation.
type Frame struct {
	PCM         []int16
	Level       float64 // dBFS
	Correlation float64
}

// EmitFunc receives processed frames in input order.
type EmitFunc func(Frame)

const (
	snapshotFrames   = 100
	snapshotInterval = 500 * time.Millisecond
	echoEventMinGap  = 500 * time.Millisecond

	// Consecutive budget overruns before echo processing is switched
	// off for subsequent blocks.
	overrunLimit = 3
)

// Pipeline turns native-rate capture blocks into quantized target-rate
// frames with echo mitigation. ProcessBlock is the single-threaded
// real-time entry point; every other method is safe to call from
// non-real-time goroutines and never makes the real-time side wait.
type Pipeline struct {
	enc  *dsp.FrameEncoder
	ref  *dsp.ReferenceBuffer
	gate *dsp.CorrelationGate
	aec  *dsp.EchoCanceller
	tele *Telemetry

	cfg     atomic.Pointer[Settings]
	ctlMu   sync.Mutex // serializes setters around cfg swaps
	cmds    chan command
	playing atomic.Bool

	// Statistics written only by the real-time path, read by State.
	framesProcessed  atomic.Uint64
	framesSuppressed atomic.Uint64
	echoDetected     atomic.Uint64
	erleBits         atomic.Uint64
	doubleTalk       atomic.Bool
	avgNanos         atomic.Int64
	finishedFlag     atomic.Bool

	// Real-time-only state below; never touched by other goroutines.
	applied      *Settings
	refFrame     []float32
	outFrame     []float32
	blockBudget  time.Duration
	overruns     int
	degraded     bool
	finished     bool
	sinceSnap    int
	lastSnap     time.Time
	lastEchoTele time.Time
}

// New builds a pipeline from the validated application configuration.
func New(cfg *config.Config) (*Pipeline, error) {
	strategy, err := ParseStrategy(cfg.Pipeline.Strategy)
	if err != nil {
		return nil, err
	}

	enc, err := dsp.NewFrameEncoder(cfg.Capture.SampleRate, cfg.Pipeline.TargetRate, cfg.Pipeline.FrameSize)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}

	capacity := int(cfg.Pipeline.ReferenceSeconds * float64(cfg.Pipeline.TargetRate))
	if capacity < cfg.Pipeline.FrameSize {
		return nil, fmt.Errorf("reference window of %gs holds less than one frame", cfg.Pipeline.ReferenceSeconds)
	}
	ref := dsp.NewReferenceBuffer(capacity)

	gc := cfg.Pipeline.Gate
	gate, err := dsp.NewCorrelationGate(ref, gc.Window,
		dsp.MaxLagSamples(gc.MaxLagMs, cfg.Pipeline.TargetRate),
		gc.Stride, gc.Threshold, gc.MinReferenceLevel)
	if err != nil {
		return nil, fmt.Errorf("correlation gate: %w", err)
	}

	aec, err := dsp.NewEchoCanceller(cfg.Pipeline.Filter.Length, cfg.Pipeline.Filter.StepSize)
	if err != nil {
		return nil, fmt.Errorf("echo canceller: %w", err)
	}
	aec.SetFreezeOnDoubleTalk(cfg.Pipeline.Filter.FreezeOnDoubleTalk)

	p := &Pipeline{
		enc:  enc,
		ref:  ref,
		gate: gate,
		aec:  aec,
		tele: newTelemetry(cfg.Pipeline.TelemetryQueueLen),
		cmds: make(chan command, cfg.Pipeline.CommandQueueSize),

		refFrame: make([]float32, cfg.Pipeline.FrameSize),
		outFrame: make([]float32, cfg.Pipeline.FrameSize),
		blockBudget: time.Duration(float64(cfg.Capture.BlockSize) /
			float64(cfg.Capture.SampleRate) * float64(time.Second)),
		lastSnap: time.Now(),
	}

	initial := &Settings{
		Enabled:            true,
		NativeRate:         cfg.Capture.SampleRate,
		TargetRate:         cfg.Pipeline.TargetRate,
		Strategy:           strategy,
		GateThreshold:      gc.Threshold,
		StepSize:           cfg.Pipeline.Filter.StepSize,
		MinReferenceLevel:  gc.MinReferenceLevel,
		FreezeOnDoubleTalk: cfg.Pipeline.Filter.FreezeOnDoubleTalk,
	}
	p.cfg.Store(initial)
	p.applied = initial

	p.tele.Publish(Event{Kind: EventReady})

	return p, nil
}

// Telemetry returns the outbound event queue.
func (p *Pipeline) Telemetry() *Telemetry {
	return p.tele
}

// Playing reports the playback flag most recently pushed alongside
// reference audio.
func (p *Pipeline) Playing() bool {
	return p.playing.Load()
}

// ProcessBlock is the real-time invocation: it consumes exactly one
// native-rate input block and emits every completed frame through
// emit, in arrival order. It never blocks, never locks, and allocates
// only while the accumulation buffer is still growing toward steady
// state. Pending commands and configuration changes are applied here,
// at the block boundary, never mid-block.
func (p *Pipeline) ProcessBlock(input []float32, emit EmitFunc) Status {
	start := time.Now()

	p.drainCommands()
	if p.finished {
		p.finishedFlag.Store(true)
		return StatusFinished
	}

	s := p.settings()
	if s != p.applied {
		p.apply(s)
	}

	p.enc.Push(input)

	for {
		frame, level, ok := p.enc.Next()
		if !ok {
			break
		}
		p.processFrame(s, frame, level, emit)
	}

	p.finishBlock(start)
	return StatusOK
}

// processFrame applies the selected strategy to one frame and emits it
// unless the gate suppressed transmission.
func (p *Pipeline) processFrame(s *Settings, frame []float32, level float64, emit EmitFunc) {
	correlation := 0.0

	if s.Enabled && !p.degraded {
		switch s.Strategy {
		case StrategyCorrelationGate:
			correlation = p.gate.Correlation(frame, p.playing.Load())
			if p.gate.IsEcho(correlation) {
				p.suppress(correlation)
				return
			}
		case StrategyAdaptiveFilter:
			// Below the minimum reference level there is no echo to
			// subtract; pass through and avoid coefficient drift.
			if p.playing.Load() && p.ref.Level() >= s.MinReferenceLevel {
				p.ref.Read(p.refFrame)
				p.aec.Process(frame, p.refFrame, p.outFrame)
				frame = p.outFrame
				level = audio.RMS(p.outFrame)
				storeFloat(&p.erleBits, p.aec.ERLE())
				p.doubleTalk.Store(p.aec.DoubleTalk())
			}
		}
	}

	emit(Frame{
		PCM:         p.enc.Quantize(frame),
		Level:       audio.DBFS(level),
		Correlation: correlation,
	})
	p.framesProcessed.Add(1)
	p.sinceSnap++
}

// suppress accounts for a frame withheld from transmission and emits
// the rate-limited telemetry around it.
func (p *Pipeline) suppress(correlation float64) {
	p.echoDetected.Add(1)
	suppressed := p.framesSuppressed.Add(1)
	p.framesProcessed.Add(1)
	p.sinceSnap++

	now := time.Now()
	if now.Sub(p.lastEchoTele) >= echoEventMinGap {
		p.lastEchoTele = now
		p.tele.Publish(Event{Kind: EventEchoDetected, Correlation: correlation, Suppressed: suppressed})
		p.tele.Publish(Event{Kind: EventAudioSuppressed, Correlation: correlation, Suppressed: suppressed})
	}
}

// drainCommands consumes every pending control command. The channel is
// bounded, so the loop is too.
func (p *Pipeline) drainCommands() {
	for {
		select {
		case cmd := <-p.cmds:
			switch cmd.kind {
			case commandReference:
				p.ref.Write(cmd.samples)
			case commandReset:
				p.resetState()
			case commandShutdown:
				p.finished = true
			}
		default:
			return
		}
	}
}

// apply carries a fresh settings snapshot into the processing
// components. Only called at block boundaries.
func (p *Pipeline) apply(s *Settings) {
	if s.NativeRate != p.applied.NativeRate || s.TargetRate != p.applied.TargetRate {
		// Validated by the control API; the encoder check cannot fail.
		_ = p.enc.SetRates(s.NativeRate, s.TargetRate)
	}
	if s.GateThreshold != p.applied.GateThreshold {
		_ = p.gate.SetThreshold(s.GateThreshold)
	}
	if s.StepSize != p.applied.StepSize {
		_ = p.aec.SetStepSize(s.StepSize)
	}
	if s.FreezeOnDoubleTalk != p.applied.FreezeOnDoubleTalk {
		p.aec.SetFreezeOnDoubleTalk(s.FreezeOnDoubleTalk)
	}
	p.applied = s
}

// resetState zeroes all processing state, equivalent to a session
// restart.
func (p *Pipeline) resetState() {
	p.enc.Reset()
	p.ref.Reset()
	p.aec.Reset()
	p.framesProcessed.Store(0)
	p.framesSuppressed.Store(0)
	p.echoDetected.Store(0)
	p.erleBits.Store(0)
	p.doubleTalk.Store(false)
	p.avgNanos.Store(0)
	p.overruns = 0
	p.degraded = false
	p.sinceSnap = 0
	p.lastSnap = time.Now()
	p.lastEchoTele = time.Time{}
}

// finishBlock updates the timing statistics, watches the block budget,
// and publishes the periodic state snapshot.
func (p *Pipeline) finishBlock(start time.Time) {
	elapsed := time.Since(start)

	avg := p.avgNanos.Load()
	if avg == 0 {
		avg = int64(elapsed)
	} else {
		avg = int64(0.9*float64(avg) + 0.1*float64(elapsed))
	}
	p.avgNanos.Store(avg)

	if elapsed > p.blockBudget {
		p.overruns++
		if p.overruns >= overrunLimit && !p.degraded {
			p.degraded = true
			p.tele.Publish(Event{Kind: EventDegraded, Snapshot: p.State()})
		}
	} else {
		p.overruns = 0
	}

	now := time.Now()
	if p.sinceSnap >= snapshotFrames || now.Sub(p.lastSnap) >= snapshotInterval {
		p.sinceSnap = 0
		p.lastSnap = now
		p.tele.Publish(Event{Kind: EventSnapshot, Snapshot: p.State()})
	}
}

func storeFloat(dst *atomic.Uint64, v float64) {
	dst.Store(math.Float64bits(v))
}

func loadFloat(src *atomic.Uint64) float64 {
	return math.Float64frombits(src.Load())
}
