package device

import (
	"context"
	"github.com/jt05610/flowchem/apparatus"
	"github.com/jt05610/flowchem/comm/serial"
	"github.com/jt05610/flowchem/event"
	"sync"
)

const SensorBaud = 9600

// Sensor forwards lines received on its port as reading events while active.
type Sensor struct {
	link
	name   string
	mu     sync.Mutex
	active bool
	rate   float64
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSensor(cfg Config, c *apparatus.ActiveComponent) *Sensor {
	return &Sensor{
		link: newLink(cfg, c, SensorBaud),
		name: c.Name,
	}
}

func (s *Sensor) Name() string { return s.name }

func (s *Sensor) Open(ctx context.Context) error { return s.open(ctx) }

// Active reports whether the sensor is collecting.
func (s *Sensor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Rate is the sampling rate in Hz.
func (s *Sensor) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *Sensor) Set(ctx context.Context, sp apparatus.Setpoint) error {
	if sp.Position != "" {
		return apparatus.Invalid(s.name, "sensors take a sampling rate, not a setting")
	}
	if sp.Rate.IsZero() {
		return s.Stop(ctx)
	}
	hz, err := sp.Rate.In("Hz")
	if err != nil {
		return apparatus.Invalid(s.name, "bad sampling rate", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = hz
	if s.active {
		return nil
	}
	s.active = true
	if s.cfg.Responses == nil {
		return nil
	}
	// readings outlive the call that started them
	fwd, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.forward(fwd, s.cfg.Responses(fwd), s.done)
	return nil
}

func (s *Sensor) forward(ctx context.Context, rx <-chan serial.Response, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-rx:
			if !ok {
				return
			}
			if r.Port != s.address {
				continue
			}
			s.cfg.Sink.Emit(event.Event{
				Timestamp: r.At,
				Component: s.name,
				Kind:      event.Reading,
				Detail:    r.Line,
			})
		}
	}
}

func (s *Sensor) Stop(context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.active = false
	s.rate = 0
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (s *Sensor) Close() error {
	_ = s.Stop(context.Background())
	return s.close()
}
