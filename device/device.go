package device

import (
	"context"
	"errors"
	"fmt"
	"github.com/jt05610/flowchem/apparatus"
	"github.com/jt05610/flowchem/comm/serial"
	"github.com/jt05610/flowchem/event"
	"github.com/jt05610/flowchem/profile"
	"github.com/jt05610/flowchem/wire"
	"go.uber.org/zap"
	"time"
)

var ErrNotOpen = errors.New("device not open")

// Transport is the part of the serial pool drivers talk through.
type Transport interface {
	Acquire(ctx context.Context, port string, baud int) (*serial.Conn, error)
	Release(c *serial.Conn) error
	Send(ctx context.Context, c *serial.Conn, rec wire.Record) error
}

// Responses yields lines received on any port until ctx is done.
type Responses func(ctx context.Context) <-chan serial.Response

// Profiles resolves stepper motors to their calibration and wiring.
type Profiles interface {
	Motor(id string) (*profile.MotorProfile, error)
	FindMCUForMotor(motorID string) (*profile.MCUProfile, *profile.MotorPins, error)
}

// Driver turns setpoints of one active component into wire records.
type Driver interface {
	Name() string
	Open(ctx context.Context) error
	Set(ctx context.Context, sp apparatus.Setpoint) error
	// Stop brings the device to rest. It is always sent, even when the
	// device is believed to be idle.
	Stop(ctx context.Context) error
	Close() error
}

// Config carries what every driver shares.
type Config struct {
	Transport Transport
	Profiles  Profiles
	Responses Responses
	Sink      event.Sink
	Logger    *zap.Logger
	// Settle is the pause between stopping a running stepper and sending its
	// new rate.
	Settle time.Duration
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Sink == nil {
		c.Sink = event.Discard
	}
	return c
}

// New builds the driver for c. Pumps need kind; valves and sensors ignore it.
func New(cfg Config, c *apparatus.ActiveComponent, kind PumpKind) (Driver, error) {
	switch c.Kind {
	case apparatus.Pump:
		return NewPump(cfg, c, kind)
	case apparatus.Valve:
		return NewValve(cfg, c), nil
	case apparatus.Sensor:
		return NewSensor(cfg, c), nil
	}
	return nil, apparatus.Invalid(c.Name, fmt.Sprintf("no driver for %s", c.Kind))
}

// link is a driver's share of one serial connection.
type link struct {
	cfg     Config
	address string
	baud    int
	conn    *serial.Conn
	logger  *zap.Logger
}

func newLink(cfg Config, c *apparatus.ActiveComponent, baud int) link {
	cfg = cfg.withDefaults()
	return link{
		cfg:     cfg,
		address: c.Address,
		baud:    baud,
		logger:  cfg.Logger.With(zap.String("component", c.Name), zap.String("port", c.Address)),
	}
}

func (l *link) open(ctx context.Context) error {
	if l.conn != nil {
		return nil
	}
	conn, err := l.cfg.Transport.Acquire(ctx, l.address, l.baud)
	if err != nil {
		return err
	}
	l.conn = conn
	return nil
}

func (l *link) send(ctx context.Context, rec wire.Record) error {
	if l.conn == nil {
		return fmt.Errorf("%s: %w", l.address, ErrNotOpen)
	}
	l.logger.Debug("send", zap.Any("record", rec))
	return l.cfg.Transport.Send(ctx, l.conn, rec)
}

func (l *link) close() error {
	if l.conn == nil {
		return nil
	}
	err := l.cfg.Transport.Release(l.conn)
	l.conn = nil
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
