package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// micQueueLen bounds the number of device callback chunks buffered
// between the audio thread and ReadBlock.
const micQueueLen = 32

// MicSource captures single-channel float32 audio from the default (or
// a named) capture device via miniaudio. The device callback copies
// samples into a bounded queue; chunks that do not fit are dropped so
// the audio thread never blocks.
type MicSource struct {
	logger *zap.Logger
	rate   int
	device string

	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	chunks chan []float32

	pending []float32
	dropped uint64
}

// NewMicSource prepares a capture source at the given rate. The device
// is not opened until Start.
func NewMicSource(logger *zap.Logger, rate int, device string) *MicSource {
	return &MicSource{
		logger: logger,
		rate:   rate,
		device: device,
		chunks: make(chan []float32, micQueueLen),
	}
}

// Start initializes the miniaudio context and opens the capture
// device.
func (m *MicSource) Start() error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.logger.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	m.ctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.rate)

	if m.device != "" {
		if err := m.selectDevice(&deviceConfig); err != nil {
			m.closeContext()
			return err
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, inputSamples []byte, frameCount uint32) {
			if frameCount == 0 {
				return
			}
			chunk := bytesToFloat32(inputSamples)
			select {
			case m.chunks <- chunk:
			default:
				m.dropped++
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		m.closeContext()
		return fmt.Errorf("init capture device: %w", err)
	}
	m.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		m.closeContext()
		return fmt.Errorf("start capture device: %w", err)
	}

	m.logger.Info("capture device started",
		zap.Int("sample_rate", m.rate),
		zap.String("device", m.device))
	return nil
}

// Stop shuts the device and the audio context down.
func (m *MicSource) Stop() error {
	if m.dev != nil {
		m.dev.Uninit()
		m.dev = nil
	}
	m.closeContext()
	if m.dropped > 0 {
		m.logger.Warn("capture chunks dropped", zap.Uint64("count", m.dropped))
	}
	return nil
}

// ReadBlock assembles one full block from buffered device chunks.
func (m *MicSource) ReadBlock(ctx context.Context, dst []float32) error {
	for filled := 0; filled < len(dst); {
		if len(m.pending) > 0 {
			n := copy(dst[filled:], m.pending)
			m.pending = m.pending[n:]
			filled += n
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-m.chunks:
			m.pending = chunk
		}
	}
	return nil
}

func (m *MicSource) selectDevice(deviceConfig *malgo.DeviceConfig) error {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("enumerate capture devices: %w", err)
	}
	for _, d := range devices {
		if d.Name() == m.device {
			id := malgo.DeviceID(d.ID)
			deviceConfig.Capture.DeviceID = id.Pointer()
			return nil
		}
	}
	return fmt.Errorf("capture device %q not found", m.device)
}

func (m *MicSource) closeContext() {
	if m.ctx == nil {
		return
	}
	if err := m.ctx.Uninit(); err != nil {
		m.logger.Warn("uninit audio context", zap.Error(err))
	}
	m.ctx.Free()
	m.ctx = nil
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.NativeEndian.Uint32(b[i*4:]))
	}
	return out
}
