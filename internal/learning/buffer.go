package learning

import "lightning-lens/internal/domain"

// EventBuffer is a bounded, insertion-ordered store of recent telemetry.
// It is not safe for concurrent use; the Engine serializes access.
type EventBuffer struct {
	events         []domain.TelemetryEvent
	capacity       int
	minSamples     int
	updateInterval int64
	eventCount     int64
}

// BufferOptions configures an EventBuffer.
type BufferOptions struct {
	Capacity       int // Default: 1000
	MinSamples     int // Default: 20
	UpdateInterval int // Default: 10
}

// NewEventBuffer creates an empty buffer.
func NewEventBuffer(opts BufferOptions) *EventBuffer {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = 1000
	}
	minSamples := opts.MinSamples
	if minSamples <= 0 {
		minSamples = 20
	}
	interval := opts.UpdateInterval
	if interval <= 0 {
		interval = 10
	}
	return &EventBuffer{
		events:         make([]domain.TelemetryEvent, 0, capacity),
		capacity:       capacity,
		minSamples:     minSamples,
		updateInterval: int64(interval),
	}
}

// Add appends ev, evicting the oldest events beyond capacity, and reports
// whether a retrain is due: size >= min samples and event count is a
// multiple of the update interval.
func (b *EventBuffer) Add(ev domain.TelemetryEvent) bool {
	b.events = append(b.events, ev)
	if over := len(b.events) - b.capacity; over > 0 {
		// Shift in place so the backing array does not grow without bound.
		n := copy(b.events, b.events[over:])
		for i := n; i < len(b.events); i++ {
			b.events[i] = nil
		}
		b.events = b.events[:n]
	}
	b.eventCount++

	return len(b.events) >= b.minSamples && b.eventCount%b.updateInterval == 0
}

// Events returns a copy of the buffered events, oldest first.
func (b *EventBuffer) Events() []domain.TelemetryEvent {
	out := make([]domain.TelemetryEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Len is the current number of buffered events.
func (b *EventBuffer) Len() int {
	return len(b.events)
}

// Count is the number of events ever added.
func (b *EventBuffer) Count() int64 {
	return b.eventCount
}

// Capacity is the configured maximum size.
func (b *EventBuffer) Capacity() int {
	return b.capacity
}
