// Package transport delivers processed frames to the outbound
// collaborator, optionally encoding them with Opus first.
package transport

import (
	"sync"

	"github.com/Raikerian/go-voice-pipeline/internal/pipeline"
	"github.com/Raikerian/go-voice-pipeline/pkg/audio"
)

// PacketWriter receives encoded outbound packets. Implementations own
// delivery; the sink owns framing and encoding.
type PacketWriter interface {
	WritePacket(data []byte) error
}

// FrameSink consumes processed frames in emission order. Deliver is
// called synchronously from the session loop; the frame's PCM slice is
// only valid for the duration of the call.
type FrameSink interface {
	Deliver(frame pipeline.Frame) error
}

// PCMSink writes frames as little-endian 16-bit PCM packets.
type PCMSink struct {
	w PacketWriter
}

// NewPCMSink creates a sink writing raw PCM packets.
func NewPCMSink(w PacketWriter) *PCMSink {
	return &PCMSink{w: w}
}

// Deliver writes one frame.
func (s *PCMSink) Deliver(frame pipeline.Frame) error {
	return s.w.WritePacket(audio.PCMInt16ToLE(frame.PCM))
}

// CollectorSink retains copies of every delivered frame. Test helper.
type CollectorSink struct {
	mu     sync.Mutex
	frames []pipeline.Frame
}

// NewCollectorSink creates an empty collector.
func NewCollectorSink() *CollectorSink {
	return &CollectorSink{}
}

// Deliver copies and stores the frame.
func (s *CollectorSink) Deliver(frame pipeline.Frame) error {
	pcm := make([]int16, len(frame.PCM))
	copy(pcm, frame.PCM)
	frame.PCM = pcm

	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	return nil
}

// Frames returns a snapshot of everything delivered so far.
func (s *CollectorSink) Frames() []pipeline.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}
