package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/go-voice-pipeline/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, "log_level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.SourceMicrophone, cfg.Capture.Source)
	assert.Equal(t, 48000, cfg.Capture.SampleRate)
	assert.Equal(t, 512, cfg.Capture.BlockSize)
	assert.Equal(t, 24000, cfg.Pipeline.TargetRate)
	assert.Equal(t, 256, cfg.Pipeline.FrameSize)
	assert.Equal(t, config.StrategyNone, cfg.Pipeline.Strategy)
	assert.Equal(t, 0.55, cfg.Pipeline.Gate.Threshold)
	assert.Equal(t, 512, cfg.Pipeline.Filter.Length)
	assert.Equal(t, 0.5, cfg.Pipeline.Filter.StepSize)
	assert.Equal(t, config.SinkPCM, cfg.Transport.Sink)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, `
capture:
  source: tone
  sample_rate: 44100
  tone_frequency: 1000
pipeline:
  target_rate: 16000
  frame_size: 160
  strategy: filter
  filter:
    length: 256
    step_size: 0.25
    freeze_on_double_talk: true
transport:
  sink: opus
  bitrate: 32000
metrics:
  enabled: true
  addr: ":9100"
`))
	require.NoError(t, err)

	assert.Equal(t, config.SourceTone, cfg.Capture.Source)
	assert.Equal(t, 44100, cfg.Capture.SampleRate)
	assert.Equal(t, float64(1000), cfg.Capture.ToneFrequency)
	assert.Equal(t, 16000, cfg.Pipeline.TargetRate)
	assert.Equal(t, 160, cfg.Pipeline.FrameSize)
	assert.Equal(t, config.StrategyFilter, cfg.Pipeline.Strategy)
	assert.Equal(t, 256, cfg.Pipeline.Filter.Length)
	assert.Equal(t, 0.25, cfg.Pipeline.Filter.StepSize)
	assert.True(t, cfg.Pipeline.Filter.FreezeOnDoubleTalk)
	assert.Equal(t, config.SinkOpus, cfg.Transport.Sink)
	assert.Equal(t, 32000, cfg.Transport.Bitrate)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := map[string]struct {
		body string
		want string
	}{
		"unknown_source": {
			body: "capture:\n  source: satellite\n",
			want: "unknown source",
		},
		"negative_sample_rate": {
			body: "capture:\n  sample_rate: -1\n",
			want: "sample rate",
		},
		"unknown_strategy": {
			body: "pipeline:\n  strategy: psychic\n",
			want: "unknown strategy",
		},
		"threshold_out_of_range": {
			body: "pipeline:\n  gate:\n    threshold: 1.5\n",
			want: "gate threshold",
		},
		"step_size_out_of_range": {
			body: "pipeline:\n  filter:\n    step_size: 2.5\n",
			want: "step size",
		},
		"unknown_sink": {
			body: "transport:\n  sink: smoke\n",
			want: "unknown sink",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	_, err := config.LoadConfig(writeConfig(t, "capture: [not a map\n"))
	assert.Error(t, err)
}
