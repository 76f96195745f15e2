package accountguard

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// AuditSink receives security events after they have been appended to the
// SecurityEventLog. Sinks run on the dispatcher goroutine and must not block
// for long.
type AuditSink interface {
	Emit(ctx context.Context, event SecurityEvent)
}

// ChannelSink forwards events to a buffered channel, mostly for tests and
// in-process consumers.
type ChannelSink struct {
	events chan SecurityEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan SecurityEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event SecurityEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan SecurityEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event SecurityEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(append(data, '\n'))
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, event SecurityEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}
