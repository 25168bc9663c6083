package event

import (
	"encoding/json"
	"fmt"
	"go.uber.org/zap"
	"sync"
	"time"
)

type Kind string

const (
	Started     Kind = "started"
	RateChanged Kind = "rate-changed"
	Stopped     Kind = "stopped"
	Error       Kind = "error"
	Reading     Kind = "reading"
)

// Event is one observable change during a run.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`
	Component string        `json:"component"`
	Kind      Kind          `json:"event"`
	Detail    string        `json:"detail,omitempty"`
}

func (e Event) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("[%s] %s %s", e.Elapsed, e.Component, e.Kind)
	}
	return fmt.Sprintf("[%s] %s %s: %s", e.Elapsed, e.Component, e.Kind, e.Detail)
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Sink receives events. Emit must not block for long; it is called from the
// goroutines driving hardware.
type Sink interface {
	Emit(e Event)
}

type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops everything.
var Discard Sink = SinkFunc(func(Event) {})

// Fanout emits to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		s.Emit(e)
	}
}

// LogSink writes events to a zap logger.
type LogSink struct {
	Logger *zap.Logger
}

func (s *LogSink) Emit(e Event) {
	fields := []zap.Field{
		zap.String("component", e.Component),
		zap.String("event", string(e.Kind)),
		zap.Duration("elapsed", e.Elapsed),
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	if e.Kind == Error {
		s.Logger.Error("component event", fields...)
		return
	}
	s.Logger.Info("component event", fields...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]Event, len(r.events))
	copy(ret, r.events)
	return ret
}

// Kinds lists the kinds emitted for component, in order.
func (r *Recorder) Kinds(component string) []Kind {
	ret := make([]Kind, 0)
	for _, e := range r.Events() {
		if e.Component == component {
			ret = append(ret, e.Kind)
		}
	}
	return ret
}

// Channel forwards events to a buffered channel, dropping them when the
// reader falls behind.
type Channel struct {
	ch      chan Event
	mu      sync.Mutex
	dropped int
	closed  bool
}

func NewChannel(size int) *Channel {
	return &Channel{ch: make(chan Event, size)}
}

func (c *Channel) C() <-chan Event { return c.ch }

func (c *Channel) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped++
	}
}

func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
