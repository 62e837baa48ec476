// Package notifier delivers fire-and-forget event notifications. The trading
// core never blocks on a sink: events that cannot be buffered are dropped.
package notifier

import (
	"go.uber.org/zap"
)

// EventType classifies a notification.
type EventType string

const (
	EventMilestone     EventType = "MILESTONE"
	EventGridStarted   EventType = "GRID_STARTED"
	EventGridStopped   EventType = "GRID_STOPPED"
	EventGridReset     EventType = "GRID_RESET"
	EventOrderFilled   EventType = "ORDER_FILLED"
	EventLevelFailed   EventType = "LEVEL_FAILED"
	EventFIFOIntegrity EventType = "FIFO_INTEGRITY"
	EventError         EventType = "ERROR"
)

// Event is one notification.
type Event struct {
	Type     EventType
	ClientID int64
	Symbol   string
	Payload  map[string]string
}

// Sink receives events. Implementations must not block the caller.
type Sink interface {
	Notify(event Event)
}

// LogSink writes events to the log through a bounded buffer. A full buffer
// drops the event rather than stalling a trading loop.
type LogSink struct {
	logger *zap.SugaredLogger
	events chan Event
	done   chan struct{}
}

// NewLogSink starts a log-backed sink with the given buffer size.
func NewLogSink(logger *zap.SugaredLogger, buffer int) *LogSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &LogSink{
		logger: logger,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *LogSink) run() {
	for {
		select {
		case ev := <-s.events:
			s.logger.Infow("notification",
				"type", ev.Type,
				"client", ev.ClientID,
				"symbol", ev.Symbol,
				"payload", ev.Payload,
			)
		case <-s.done:
			return
		}
	}
}

// Notify enqueues the event, dropping it if the buffer is full.
func (s *LogSink) Notify(event Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Debugw("notification dropped, buffer full", "type", event.Type)
	}
}

// Close stops the sink's delivery goroutine.
func (s *LogSink) Close() {
	close(s.done)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Notify(Event) {}
