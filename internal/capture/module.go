package capture

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-voice-pipeline/internal/config"
	"github.com/Raikerian/go-voice-pipeline/pkg/tonegen"
)

// Module provides the capture block source.
var Module = fx.Module("capture",
	fx.Provide(NewToneGenerator),
	fx.Provide(NewBlockSource),
)

// NewToneGenerator creates the shared tone generator.
func NewToneGenerator() (*tonegen.Generator, error) {
	return tonegen.New(tonegen.DefaultCacheSize)
}

// NewBlockSourceParams holds dependencies for NewBlockSource.
type NewBlockSourceParams struct {
	fx.In
	Cfg    *config.Config
	Logger *zap.Logger
	Gen    *tonegen.Generator
	LC     fx.Lifecycle
}

// NewBlockSource creates the configured capture source. A microphone
// source is opened and closed with the application lifecycle.
func NewBlockSource(params NewBlockSourceParams) (BlockSource, error) {
	switch params.Cfg.Capture.Source {
	case config.SourceTone:
		return NewToneSource(params.Gen,
			params.Cfg.Capture.ToneFrequency, 0.5,
			params.Cfg.Capture.SampleRate), nil
	case config.SourceMicrophone:
		mic := NewMicSource(params.Logger, params.Cfg.Capture.SampleRate, params.Cfg.Capture.Device)
		params.LC.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return mic.Start()
			},
			OnStop: func(ctx context.Context) error {
				return mic.Stop()
			},
		})
		return mic, nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", params.Cfg.Capture.Source)
	}
}
