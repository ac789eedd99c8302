package pipeline

import (
	"sync/atomic"
	"time"
)

// EventKind identifies a telemetry event.
type EventKind int

const (
	// EventReady signals that a pipeline has been constructed and is
	// accepting blocks.
	EventReady EventKind = iota
	// EventSnapshot carries periodic processing statistics.
	EventSnapshot
	// EventEchoDetected reports a frame whose correlation against the
	// playback reference crossed the gate threshold.
	EventEchoDetected
	// EventAudioSuppressed reports that a frame was withheld from
	// transmission, with the running suppressed-frame count.
	EventAudioSuppressed
	// EventStarvation warns that the encoder is not accumulating enough
	// input to produce frames.
	EventStarvation
	// EventDegraded reports persistent block-budget overruns; echo
	// processing has been switched off to preserve latency.
	EventDegraded
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventSnapshot:
		return "snapshot"
	case EventEchoDetected:
		return "echo_detected"
	case EventAudioSuppressed:
		return "audio_suppressed"
	case EventStarvation:
		return "starvation"
	case EventDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the pipeline statistics. It is
// assembled by the real-time path and consumed by the telemetry drain.
type Snapshot struct {
	ERLE             float64
	DoubleTalk       bool
	FramesProcessed  uint64
	FramesSuppressed uint64
	EchoDetected     uint64
	AvgProcessTime   time.Duration
	Finished         bool
}

// Event is a single telemetry message.
type Event struct {
	Kind        EventKind
	Correlation float64
	Suppressed  uint64
	Snapshot    Snapshot
}

// Telemetry is a bounded, non-blocking outbound event queue. The
// real-time path publishes into it without ever waiting; events that
// do not fit are dropped and counted.
type Telemetry struct {
	events  chan Event
	dropped atomic.Uint64
}

func newTelemetry(size int) *Telemetry {
	return &Telemetry{events: make(chan Event, size)}
}

// Publish enqueues an event without blocking. It reports whether the
// event was accepted.
func (t *Telemetry) Publish(ev Event) bool {
	select {
	case t.events <- ev:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

// Events returns the receive side of the queue.
func (t *Telemetry) Events() <-chan Event {
	return t.events
}

// Dropped returns the number of events discarded because the queue was
// full.
func (t *Telemetry) Dropped() uint64 {
	return t.dropped.Load()
}
