// Package session runs one voice capture session: it stands in for the
// host audio engine, invoking the pipeline once per block period and
// fanning telemetry out to logs and metrics.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Raikerian/go-voice-pipeline/internal/capture"
	"github.com/Raikerian/go-voice-pipeline/internal/config"
	"github.com/Raikerian/go-voice-pipeline/internal/metrics"
	"github.com/Raikerian/go-voice-pipeline/internal/pipeline"
	"github.com/Raikerian/go-voice-pipeline/internal/transport"
	"github.com/Raikerian/go-voice-pipeline/pkg/util"
)

// starvationWindows is how many block periods may pass without an
// emitted frame before a starvation warning is raised.
const starvationWindows = 20

// Service owns one voice session: the capture source, the processing
// pipeline, and the outbound sink.
type Service struct {
	cfg     *config.Config
	logger  *zap.Logger
	source  capture.BlockSource
	pipe    *pipeline.Pipeline
	sink    transport.FrameSink
	metrics *metrics.Metrics

	cancel context.CancelFunc
	group  *errgroup.Group
	starve *util.Debouncer
}

// NewService wires a session together. Nothing runs until Start.
func NewService(cfg *config.Config, logger *zap.Logger, source capture.BlockSource,
	pipe *pipeline.Pipeline, sink transport.FrameSink, m *metrics.Metrics,
) *Service {
	return &Service{
		cfg:     cfg,
		logger:  logger,
		source:  source,
		pipe:    pipe,
		sink:    sink,
		metrics: m,
	}
}

// Pipeline exposes the control surface of the running session.
func (s *Service) Pipeline() *pipeline.Pipeline {
	return s.pipe
}

// PushPlayback forwards a copy of rendered playback audio into the
// pipeline as echo reference material.
func (s *Service) PushPlayback(samples []float32, playing bool) bool {
	return s.pipe.PushReference(samples, playing)
}

// Start launches the block loop and the telemetry drain.
func (s *Service) Start() error {
	if s.cancel != nil {
		return errors.New("session already started")
	}

	blockPeriod := time.Duration(float64(s.cfg.Capture.BlockSize) /
		float64(s.cfg.Capture.SampleRate) * float64(time.Second))
	s.starve = util.NewDebouncer(starvationWindows * blockPeriod)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	s.group = group

	group.Go(func() error {
		err := s.runBlocks(gctx)
		// The drain has nothing more to do once the loop is done.
		cancel()
		return err
	})
	group.Go(func() error {
		s.drainTelemetry(gctx)
		return nil
	})

	s.logger.Info("voice session started",
		zap.Int("native_rate", s.cfg.Capture.SampleRate),
		zap.Int("block_size", s.cfg.Capture.BlockSize),
		zap.Int("target_rate", s.cfg.Pipeline.TargetRate),
		zap.String("strategy", s.cfg.Pipeline.Strategy))
	return nil
}

// Stop asks the pipeline to finish and waits for the loops to exit.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.pipe.Shutdown()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		s.cancel()
		err = <-done
	}

	s.starve.Stop()
	s.cancel = nil
	s.logger.Info("voice session stopped", zap.Error(err))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runBlocks is the host-engine stand-in: one ReadBlock and one
// ProcessBlock per block period until shutdown.
func (s *Service) runBlocks(ctx context.Context) error {
	block := make([]float32, s.cfg.Capture.BlockSize)

	emit := func(frame pipeline.Frame) {
		s.starve.Reset()
		if err := s.sink.Deliver(frame); err != nil {
			s.logger.Warn("frame delivery failed", zap.Error(err))
		}
	}

	for {
		if err := s.source.ReadBlock(ctx, block); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read capture block: %w", err)
		}
		if s.pipe.ProcessBlock(block, emit) == pipeline.StatusFinished {
			s.logger.Debug("pipeline finished")
			return nil
		}
	}
}

// drainTelemetry forwards pipeline events to the logger and metrics,
// and watches for starvation.
func (s *Service) drainTelemetry(ctx context.Context) {
	tele := s.pipe.Telemetry()
	var droppedSeen uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.starve.C():
			s.starve.Reset()
			tele.Publish(pipeline.Event{Kind: pipeline.EventStarvation})
		case ev := <-tele.Events():
			s.handleEvent(ev)

			if dropped := tele.Dropped(); dropped > droppedSeen {
				s.metrics.TelemetryDropped.Add(float64(dropped - droppedSeen))
				droppedSeen = dropped
			}
		}
	}
}

func (s *Service) handleEvent(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventReady:
		s.logger.Info("pipeline ready")
	case pipeline.EventSnapshot:
		s.metrics.ObserveSnapshot(ev.Snapshot)
		s.logger.Debug("pipeline snapshot",
			zap.Float64("erle_db", ev.Snapshot.ERLE),
			zap.Bool("double_talk", ev.Snapshot.DoubleTalk),
			zap.Uint64("frames", ev.Snapshot.FramesProcessed),
			zap.Uint64("suppressed", ev.Snapshot.FramesSuppressed),
			zap.Duration("avg_block_time", ev.Snapshot.AvgProcessTime))
	case pipeline.EventEchoDetected:
		s.logger.Debug("echo detected",
			zap.Float64("correlation", ev.Correlation))
	case pipeline.EventAudioSuppressed:
		s.logger.Info("audio suppressed",
			zap.Float64("correlation", ev.Correlation),
			zap.Uint64("total_suppressed", ev.Suppressed))
	case pipeline.EventStarvation:
		s.metrics.Starvations.Inc()
		s.logger.Warn("encoder starvation: no frames emitted for a full window")
	case pipeline.EventDegraded:
		s.metrics.Degradations.Inc()
		s.logger.Warn("block budget exceeded repeatedly, echo processing disabled",
			zap.Duration("avg_block_time", ev.Snapshot.AvgProcessTime))
	}
}
