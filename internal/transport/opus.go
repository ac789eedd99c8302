package transport

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/Raikerian/go-voice-pipeline/internal/pipeline"
)

// maxOpusPacket is the encode buffer ceiling recommended by the opus
// documentation.
const maxOpusPacket = 4000

// OpusSink encodes outbound frames with Opus before handing packets to
// the writer. Pipeline frames are regrouped into 20 ms codec frames,
// since the codec only accepts its own frame durations.
type OpusSink struct {
	enc       *gopus.Encoder
	w         PacketWriter
	frameSize int
	pending   []int16
}

// NewOpusSink creates a mono Voip-tuned encoder at the given sample
// rate and bitrate.
func NewOpusSink(sampleRate, bitrate int, w PacketWriter) (*OpusSink, error) {
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	enc.SetBitrate(bitrate)

	return &OpusSink{
		enc:       enc,
		w:         w,
		frameSize: sampleRate / 50, // 20 ms
	}, nil
}

// Deliver buffers the frame and writes every completed codec frame.
func (s *OpusSink) Deliver(frame pipeline.Frame) error {
	s.pending = append(s.pending, frame.PCM...)

	for len(s.pending) >= s.frameSize {
		packet, err := s.enc.Encode(s.pending[:s.frameSize], s.frameSize, maxOpusPacket)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		n := copy(s.pending, s.pending[s.frameSize:])
		s.pending = s.pending[:n]

		if err := s.w.WritePacket(packet); err != nil {
			return fmt.Errorf("write packet: %w", err)
		}
	}
	return nil
}

// Buffered returns the number of samples awaiting a full codec frame.
func (s *OpusSink) Buffered() int {
	return len(s.pending)
}
