package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Capture source kinds.
const (
	SourceMicrophone = "microphone"
	SourceTone       = "tone"
)

// Echo mitigation strategies.
const (
	StrategyNone   = "none"
	StrategyGate   = "gate"
	StrategyFilter = "filter"
)

// Frame sink kinds.
const (
	SinkPCM  = "pcm"
	SinkOpus = "opus"
)

// CaptureConfig stores audio capture specific configurations.
type CaptureConfig struct {
	Source        string  `yaml:"source"`
	Device        string  `yaml:"device"`
	SampleRate    int     `yaml:"sample_rate"`
	BlockSize     int     `yaml:"block_size"`
	ToneFrequency float64 `yaml:"tone_frequency"`
}

// GateConfig stores correlation gate specific configurations.
type GateConfig struct {
	Window            int     `yaml:"window"`
	MaxLagMs          int     `yaml:"max_lag_ms"`
	Stride            int     `yaml:"stride"`
	Threshold         float64 `yaml:"threshold"`
	MinReferenceLevel float64 `yaml:"min_reference_level"`
}

// FilterConfig stores adaptive filter specific configurations.
type FilterConfig struct {
	Length             int     `yaml:"length"`
	StepSize           float64 `yaml:"step_size"`
	FreezeOnDoubleTalk bool    `yaml:"freeze_on_double_talk"`
}

// PipelineConfig stores processing pipeline specific configurations.
type PipelineConfig struct {
	TargetRate        int          `yaml:"target_rate"`
	FrameSize         int          `yaml:"frame_size"`
	Strategy          string       `yaml:"strategy"`
	ReferenceSeconds  float64      `yaml:"reference_seconds"`
	CommandQueueSize  int          `yaml:"command_queue_size"`
	TelemetryQueueLen int          `yaml:"telemetry_queue_len"`
	Gate              GateConfig   `yaml:"gate"`
	Filter            FilterConfig `yaml:"filter"`
}

// TransportConfig stores frame delivery specific configurations.
type TransportConfig struct {
	Sink    string `yaml:"sink"`
	Bitrate int    `yaml:"bitrate"`
}

// MetricsConfig stores Prometheus exposition specific configurations.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config stores the application configuration.
type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level"`
}

// applyDefaults fills in zero values with the defaults the pipeline was
// tuned for: 48 kHz capture in 512-sample blocks, downsampled to 24 kHz
// frames of 256 samples.
func (c *Config) applyDefaults() {
	if c.Capture.Source == "" {
		c.Capture.Source = SourceMicrophone
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = 48000
	}
	if c.Capture.BlockSize == 0 {
		c.Capture.BlockSize = 512
	}
	if c.Capture.ToneFrequency == 0 {
		c.Capture.ToneFrequency = 440
	}
	if c.Pipeline.TargetRate == 0 {
		c.Pipeline.TargetRate = 24000
	}
	if c.Pipeline.FrameSize == 0 {
		c.Pipeline.FrameSize = 256
	}
	if c.Pipeline.Strategy == "" {
		c.Pipeline.Strategy = StrategyNone
	}
	if c.Pipeline.ReferenceSeconds == 0 {
		c.Pipeline.ReferenceSeconds = 0.5
	}
	if c.Pipeline.CommandQueueSize == 0 {
		c.Pipeline.CommandQueueSize = 64
	}
	if c.Pipeline.TelemetryQueueLen == 0 {
		c.Pipeline.TelemetryQueueLen = 256
	}
	if c.Pipeline.Gate.Window == 0 {
		c.Pipeline.Gate.Window = 256
	}
	if c.Pipeline.Gate.MaxLagMs == 0 {
		c.Pipeline.Gate.MaxLagMs = 150
	}
	if c.Pipeline.Gate.Stride == 0 {
		c.Pipeline.Gate.Stride = 4
	}
	if c.Pipeline.Gate.Threshold == 0 {
		c.Pipeline.Gate.Threshold = 0.55
	}
	if c.Pipeline.Gate.MinReferenceLevel == 0 {
		c.Pipeline.Gate.MinReferenceLevel = 0.001
	}
	if c.Pipeline.Filter.Length == 0 {
		c.Pipeline.Filter.Length = 512
	}
	if c.Pipeline.Filter.StepSize == 0 {
		c.Pipeline.Filter.StepSize = 0.5
	}
	if c.Transport.Sink == "" {
		c.Transport.Sink = SinkPCM
	}
	if c.Transport.Bitrate == 0 {
		c.Transport.Bitrate = 64000
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// Validate reports the first invalid setting it finds.
func (c *Config) Validate() error {
	switch c.Capture.Source {
	case SourceMicrophone, SourceTone:
	default:
		return fmt.Errorf("capture: unknown source %q", c.Capture.Source)
	}
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture: sample rate must be positive, got %d", c.Capture.SampleRate)
	}
	if c.Capture.BlockSize <= 0 {
		return fmt.Errorf("capture: block size must be positive, got %d", c.Capture.BlockSize)
	}
	if c.Pipeline.TargetRate <= 0 {
		return fmt.Errorf("pipeline: target rate must be positive, got %d", c.Pipeline.TargetRate)
	}
	if c.Pipeline.FrameSize <= 0 {
		return fmt.Errorf("pipeline: frame size must be positive, got %d", c.Pipeline.FrameSize)
	}
	switch c.Pipeline.Strategy {
	case StrategyNone, StrategyGate, StrategyFilter:
	default:
		return fmt.Errorf("pipeline: unknown strategy %q", c.Pipeline.Strategy)
	}
	if c.Pipeline.ReferenceSeconds <= 0 {
		return fmt.Errorf("pipeline: reference window must be positive, got %g", c.Pipeline.ReferenceSeconds)
	}
	if c.Pipeline.Gate.Threshold <= 0 || c.Pipeline.Gate.Threshold > 1 {
		return fmt.Errorf("pipeline: gate threshold must be in (0, 1], got %g", c.Pipeline.Gate.Threshold)
	}
	if c.Pipeline.Gate.Window <= 0 {
		return fmt.Errorf("pipeline: gate window must be positive, got %d", c.Pipeline.Gate.Window)
	}
	if c.Pipeline.Gate.Stride <= 0 {
		return fmt.Errorf("pipeline: gate stride must be positive, got %d", c.Pipeline.Gate.Stride)
	}
	if c.Pipeline.Gate.MaxLagMs <= 0 {
		return fmt.Errorf("pipeline: gate max lag must be positive, got %d", c.Pipeline.Gate.MaxLagMs)
	}
	if c.Pipeline.Filter.Length <= 0 {
		return fmt.Errorf("pipeline: filter length must be positive, got %d", c.Pipeline.Filter.Length)
	}
	if c.Pipeline.Filter.StepSize <= 0 || c.Pipeline.Filter.StepSize >= 2 {
		return fmt.Errorf("pipeline: filter step size must be in (0, 2), got %g", c.Pipeline.Filter.StepSize)
	}
	switch c.Transport.Sink {
	case SinkPCM, SinkOpus:
	default:
		return fmt.Errorf("transport: unknown sink %q", c.Transport.Sink)
	}
	return nil
}

// LoadConfig loads the configuration from the given file path.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
