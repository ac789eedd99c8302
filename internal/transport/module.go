package transport

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-voice-pipeline/internal/config"
)

// Module provides the outbound frame sink.
var Module = fx.Module("transport",
	fx.Provide(NewPacketWriter),
	fx.Provide(NewSink),
)

// NewPacketWriter provides the default packet destination: a counter
// that logs delivery progress. Deployments embedding the pipeline
// replace this with their own transport.
func NewPacketWriter(logger *zap.Logger) PacketWriter {
	return &loggingWriter{logger: logger}
}

// NewSink creates the configured frame sink.
func NewSink(cfg *config.Config, w PacketWriter) (FrameSink, error) {
	switch cfg.Transport.Sink {
	case config.SinkPCM:
		return NewPCMSink(w), nil
	case config.SinkOpus:
		return NewOpusSink(cfg.Pipeline.TargetRate, cfg.Transport.Bitrate, w)
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Transport.Sink)
	}
}

// loggingWriter counts outbound packets and logs every so often.
type loggingWriter struct {
	logger  *zap.Logger
	packets uint64
	bytes   uint64
}

func (w *loggingWriter) WritePacket(data []byte) error {
	w.packets++
	w.bytes += uint64(len(data))
	if w.packets%500 == 0 {
		w.logger.Debug("outbound audio",
			zap.Uint64("packets", w.packets),
			zap.Uint64("bytes", w.bytes))
	}
	return nil
}
