package pipeline_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/go-voice-pipeline/internal/config"
	"github.com/Raikerian/go-voice-pipeline/internal/pipeline"
	"github.com/Raikerian/go-voice-pipeline/pkg/audio"
)

func testConfig() *config.Config {
	return &config.Config{
		Capture: config.CaptureConfig{
			Source:     config.SourceTone,
			SampleRate: 48000,
			BlockSize:  512,
		},
		Pipeline: config.PipelineConfig{
			TargetRate:        24000,
			FrameSize:         256,
			Strategy:          config.StrategyNone,
			ReferenceSeconds:  0.5,
			CommandQueueSize:  64,
			TelemetryQueueLen: 256,
			Gate: config.GateConfig{
				Window:            256,
				MaxLagMs:          150,
				Stride:            4,
				Threshold:         0.55,
				MinReferenceLevel: 0.001,
			},
			Filter: config.FilterConfig{
				Length:   512,
				StepSize: 0.5,
			},
		},
		Transport: config.TransportConfig{Sink: config.SinkPCM},
	}
}

// toneFeeder produces phase-continuous sine blocks at a given rate.
type toneFeeder struct {
	freq   float64
	amp    float64
	rate   int
	offset int
}

func (f *toneFeeder) next(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(f.amp * math.Sin(2*math.Pi*f.freq*float64(f.offset+i)/float64(f.rate)))
	}
	f.offset += n
	return out
}

func collectFrames(dst *[]pipeline.Frame) pipeline.EmitFunc {
	return func(fr pipeline.Frame) {
		// PCM is only valid during the callback.
		pcm := make([]int16, len(fr.PCM))
		copy(pcm, fr.PCM)
		fr.PCM = pcm
		*dst = append(*dst, fr)
	}
}

func frameRMS(fr pipeline.Frame) float64 {
	return audio.RMS(audio.PCM16ToFloat(fr.PCM))
}

func TestPipelineEmitsOrderedFixedSizeFrames(t *testing.T) {
	p, err := pipeline.New(testConfig())
	require.NoError(t, err)

	// A slow ramp makes reordering detectable across frame boundaries.
	block := make([]float32, 512)
	var frames []pipeline.Frame
	emit := collectFrames(&frames)

	value := float32(-0.9)
	for b := 0; b < 20; b++ {
		for i := range block {
			value += 0.00017
			block[i] = value
		}
		require.Equal(t, pipeline.StatusOK, p.ProcessBlock(block, emit))
	}

	// 512 native samples at ratio 2 yield exactly one 256-sample frame.
	require.Len(t, frames, 20)
	prev := int16(math.MinInt16)
	for i, fr := range frames {
		assert.Len(t, fr.PCM, 256, "frame %d", i)
		assert.GreaterOrEqual(t, fr.PCM[0], prev, "frame %d out of order", i)
		prev = fr.PCM[len(fr.PCM)-1]
	}
	assert.Equal(t, uint64(20), p.State().FramesProcessed)
}

func TestPipelineShutdownFinishes(t *testing.T) {
	p, err := pipeline.New(testConfig())
	require.NoError(t, err)

	block := make([]float32, 512)
	var frames []pipeline.Frame
	require.Equal(t, pipeline.StatusOK, p.ProcessBlock(block, collectFrames(&frames)))

	require.True(t, p.Shutdown())
	assert.Equal(t, pipeline.StatusFinished, p.ProcessBlock(block, collectFrames(&frames)))
	assert.Equal(t, pipeline.StatusFinished, p.ProcessBlock(block, collectFrames(&frames)))
	assert.Len(t, frames, 1, "no frames after shutdown")
	assert.True(t, p.State().Finished)
}

func TestPipelineControlValidation(t *testing.T) {
	p, err := pipeline.New(testConfig())
	require.NoError(t, err)

	assert.Error(t, p.SetRates(-1, 24000))
	assert.Error(t, p.SetRates(48000, 0))
	assert.Error(t, p.SetGateThreshold(0))
	assert.Error(t, p.SetGateThreshold(1.5))
	assert.Error(t, p.SetStepSize(2))
	assert.Error(t, p.SetStepSize(-0.1))
	assert.Error(t, p.SetStrategy(pipeline.Strategy(99)))

	assert.NoError(t, p.SetGateThreshold(0.7))
	assert.NoError(t, p.SetStepSize(0.25))
	assert.NoError(t, p.SetStrategy(pipeline.StrategyAdaptiveFilter))
}

func TestPipelineRateChangeAppliedAtBlockBoundary(t *testing.T) {
	p, err := pipeline.New(testConfig())
	require.NoError(t, err)

	block := make([]float32, 512)
	var frames []pipeline.Frame
	emit := collectFrames(&frames)

	p.ProcessBlock(block, emit)
	require.Len(t, frames, 1)

	// Ratio 4 needs 1024 native samples per frame, so a single block no
	// longer completes one.
	require.NoError(t, p.SetRates(48000, 12000))
	frames = frames[:0]
	p.ProcessBlock(block, emit)
	assert.Empty(t, frames)
	p.ProcessBlock(block, emit)
	assert.Len(t, frames, 1)
}

func TestPipelineGateSuppressesEchoFrames(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.Strategy = config.StrategyGate
	p, err := pipeline.New(cfg)
	require.NoError(t, err)

	refTone := toneFeeder{freq: 1000, amp: 0.5, rate: 24000}
	micTone := toneFeeder{freq: 1000, amp: 0.5, rate: 48000}

	var frames []pipeline.Frame
	emit := collectFrames(&frames)

	for b := 0; b < 40; b++ {
		require.True(t, p.PushReference(refTone.next(256), true))
		p.ProcessBlock(micTone.next(512), emit)
	}

	state := p.State()
	assert.Positive(t, state.FramesSuppressed, "echoing frames must be withheld")
	assert.Equal(t, state.FramesProcessed, state.FramesSuppressed+uint64(len(frames)),
		"suppression omits frames, it never reorders or loses counts")

	sawSuppressed := false
	for len(p.Telemetry().Events()) > 0 {
		ev := <-p.Telemetry().Events()
		if ev.Kind == pipeline.EventAudioSuppressed {
			sawSuppressed = true
			assert.Positive(t, ev.Suppressed)
			assert.Greater(t, ev.Correlation, 0.55)
		}
	}
	assert.True(t, sawSuppressed)

	// Once playback stops the gate passes everything through.
	require.True(t, p.PushReference(nil, false))
	frames = frames[:0]
	suppressedBefore := p.State().FramesSuppressed
	for b := 0; b < 10; b++ {
		p.ProcessBlock(micTone.next(512), emit)
	}
	assert.Len(t, frames, 10)
	assert.Equal(t, suppressedBefore, p.State().FramesSuppressed)
	for _, fr := range frames {
		assert.Zero(t, fr.Correlation)
	}
}

func TestPipelineDisabledPassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.Strategy = config.StrategyGate
	p, err := pipeline.New(cfg)
	require.NoError(t, err)
	p.SetEnabled(false)

	tone := toneFeeder{freq: 1000, amp: 0.5, rate: 48000}
	ref := toneFeeder{freq: 1000, amp: 0.5, rate: 24000}

	var frames []pipeline.Frame
	emit := collectFrames(&frames)
	for b := 0; b < 20; b++ {
		require.True(t, p.PushReference(ref.next(256), true))
		p.ProcessBlock(tone.next(512), emit)
	}

	assert.Len(t, frames, 20)
	assert.Zero(t, p.State().FramesSuppressed)
}

func TestPipelineAdaptiveFilterCancelsEcho(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.Strategy = config.StrategyFilter
	p, err := pipeline.New(cfg)
	require.NoError(t, err)

	// Mic hears exactly what the speaker plays: a stationary tone. The
	// canceller should learn the path and drive the residual down.
	micTone := toneFeeder{freq: 1000, amp: 0.5, rate: 48000}
	refTone := toneFeeder{freq: 1000, amp: 0.5, rate: 24000}

	var frames []pipeline.Frame
	emit := collectFrames(&frames)
	for b := 0; b < 150; b++ {
		require.True(t, p.PushReference(refTone.next(256), true))
		p.ProcessBlock(micTone.next(512), emit)
	}

	require.Len(t, frames, 150)
	early := frameRMS(frames[0])
	late := frameRMS(frames[len(frames)-1])
	assert.Less(t, late, 0.2*early, "residual should shrink as the filter converges")
	assert.Positive(t, p.State().ERLE)
	assert.Less(t, frames[len(frames)-1].Level, frames[0].Level-10,
		"level is measured on the residual, not the pre-cancellation input")
}

func TestPipelineAdaptiveFilterBypassWithoutReference(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.Strategy = config.StrategyFilter
	p, err := pipeline.New(cfg)
	require.NoError(t, err)

	tone := toneFeeder{freq: 700, amp: 0.4, rate: 48000}
	var frames []pipeline.Frame
	emit := collectFrames(&frames)
	for b := 0; b < 10; b++ {
		p.ProcessBlock(tone.next(512), emit)
	}

	// With no reference material the mic signal passes through at full
	// level.
	require.Len(t, frames, 10)
	assert.InDelta(t, 0.4/math.Sqrt2, frameRMS(frames[9]), 0.01)
}

func TestPipelineResetZeroesCounters(t *testing.T) {
	p, err := pipeline.New(testConfig())
	require.NoError(t, err)

	block := make([]float32, 512)
	var frames []pipeline.Frame
	emit := collectFrames(&frames)
	for b := 0; b < 5; b++ {
		p.ProcessBlock(block, emit)
	}
	require.Equal(t, uint64(5), p.State().FramesProcessed)

	require.True(t, p.Reset())
	p.ProcessBlock(block, emit)
	assert.Equal(t, uint64(1), p.State().FramesProcessed,
		"reset applies before the block is processed")
	assert.Zero(t, p.State().FramesSuppressed)
}

func TestPipelineCommandQueueDropsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.CommandQueueSize = 2
	p, err := pipeline.New(cfg)
	require.NoError(t, err)

	assert.True(t, p.Reset())
	assert.True(t, p.Reset())
	assert.False(t, p.Reset(), "queue of two is full")
	assert.False(t, p.PushReference([]float32{0.1}, true))
}

func TestPipelineTelemetryQueueDropsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.TelemetryQueueLen = 1
	p, err := pipeline.New(cfg)
	require.NoError(t, err)

	// The ready event fills the queue of one.
	assert.False(t, p.Telemetry().Publish(pipeline.Event{Kind: pipeline.EventStarvation}))
	assert.Equal(t, uint64(1), p.Telemetry().Dropped())

	ev := <-p.Telemetry().Events()
	assert.Equal(t, pipeline.EventReady, ev.Kind)
}

func TestPipelineDegradedAfterBudgetOverruns(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.Strategy = config.StrategyGate
	p, err := pipeline.New(cfg)
	require.NoError(t, err)

	refTone := toneFeeder{freq: 1000, amp: 0.5, rate: 24000}
	micTone := toneFeeder{freq: 1000, amp: 0.5, rate: 48000}

	var frames []pipeline.Frame
	emit := collectFrames(&frames)

	// The gate works while the pipeline keeps its timing budget.
	for b := 0; b < 10; b++ {
		require.True(t, p.PushReference(refTone.next(256), true))
		p.ProcessBlock(micTone.next(512), emit)
	}
	require.Positive(t, p.State().FramesSuppressed)

	// Overrun the 10.6ms block budget three times in a row by stalling
	// inside the emit callback. Playback is off here so every frame is
	// emitted and the stall is hit each block.
	require.True(t, p.PushReference(nil, false))
	slow := func(pipeline.Frame) { time.Sleep(15 * time.Millisecond) }
	for b := 0; b < 4; b++ {
		p.ProcessBlock(micTone.next(512), slow)
	}

	sawDegraded := false
	for len(p.Telemetry().Events()) > 0 {
		if ev := <-p.Telemetry().Events(); ev.Kind == pipeline.EventDegraded {
			sawDegraded = true
		}
	}
	require.True(t, sawDegraded, "three consecutive overruns report degradation")

	// Echo processing is off now: the same echoing signal that was
	// suppressed before passes straight through.
	suppressedBefore := p.State().FramesSuppressed
	frames = frames[:0]
	for b := 0; b < 10; b++ {
		require.True(t, p.PushReference(refTone.next(256), true))
		p.ProcessBlock(micTone.next(512), emit)
	}
	assert.Len(t, frames, 10)
	assert.Equal(t, suppressedBefore, p.State().FramesSuppressed)
	for _, fr := range frames {
		assert.Zero(t, fr.Correlation)
	}

	// Reset restores echo processing.
	require.True(t, p.Reset())
	for b := 0; b < 10; b++ {
		require.True(t, p.PushReference(refTone.next(256), true))
		p.ProcessBlock(micTone.next(512), emit)
	}
	assert.Positive(t, p.State().FramesSuppressed)
}

func TestPipelineConcurrentSettersKeepEveryUpdate(t *testing.T) {
	p, err := pipeline.New(testConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = p.SetGateThreshold(0.9)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = p.SetStepSize(0.25)
		}
	}()
	wg.Wait()

	s := p.Settings()
	assert.Equal(t, 0.9, s.GateThreshold)
	assert.Equal(t, 0.25, s.StepSize)
}

func TestPipelineResetRestartsEchoTelemetryWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.Strategy = config.StrategyGate
	p, err := pipeline.New(cfg)
	require.NoError(t, err)

	refTone := toneFeeder{freq: 1000, amp: 0.5, rate: 24000}
	micTone := toneFeeder{freq: 1000, amp: 0.5, rate: 48000}
	emit := func(pipeline.Frame) {}

	require.True(t, p.PushReference(refTone.next(256), true))
	p.ProcessBlock(micTone.next(512), emit)
	require.Positive(t, p.State().FramesSuppressed)
	for len(p.Telemetry().Events()) > 0 {
		<-p.Telemetry().Events()
	}

	// Well inside the rate-limit gap, but reset restarts the window so
	// the next suppression is reported immediately.
	require.True(t, p.Reset())
	require.True(t, p.PushReference(refTone.next(256), true))
	p.ProcessBlock(micTone.next(512), emit)

	sawSuppressed := false
	for len(p.Telemetry().Events()) > 0 {
		if ev := <-p.Telemetry().Events(); ev.Kind == pipeline.EventAudioSuppressed {
			sawSuppressed = true
			assert.Equal(t, uint64(1), ev.Suppressed, "counters restart with the window")
		}
	}
	assert.True(t, sawSuppressed)
}

func TestPipelineSnapshotCadence(t *testing.T) {
	p, err := pipeline.New(testConfig())
	require.NoError(t, err)

	block := make([]float32, 512)
	emit := func(pipeline.Frame) {}
	for b := 0; b < 101; b++ {
		p.ProcessBlock(block, emit)
	}

	var snapshot *pipeline.Snapshot
	for len(p.Telemetry().Events()) > 0 {
		ev := <-p.Telemetry().Events()
		if ev.Kind == pipeline.EventSnapshot {
			s := ev.Snapshot
			snapshot = &s
		}
	}
	require.NotNil(t, snapshot, "a snapshot is published at least every 100 frames")
	assert.GreaterOrEqual(t, snapshot.FramesProcessed, uint64(100))
	assert.Positive(t, snapshot.AvgProcessTime)
}
