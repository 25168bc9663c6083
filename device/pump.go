package device

import (
	"context"
	"fmt"
	"github.com/jt05610/flowchem/apparatus"
	"github.com/jt05610/flowchem/calibration"
	"github.com/jt05610/flowchem/wire"
	"go.uber.org/zap"
	"math"
)

const (
	StepperBaud = 9600
	SyringeBaud = 115200

	DefaultCurrent    = 800
	DefaultMicrosteps = 16
)

// DefaultPins are the step and dir pins of a single-axis driver board.
var DefaultPins = wire.Pins{Step: 2, Dir: 3}

// PumpKind selects the pump family. It is one of SteppedAxis, SingleChannel
// or DualChannel.
type PumpKind interface {
	Baud() int
	pumpKind()
}

// SteppedAxis is a calibrated stepper driving a syringe, wired to an MCU
// described by the motor and MCU profiles.
type SteppedAxis struct {
	MotorID string
	// SyringeDiameter in mm of the syringe in use. Zero means the
	// calibration syringe.
	SyringeDiameter float64
	// SyringeVolume in mL.
	SyringeVolume float64
}

func (SteppedAxis) Baud() int { return StepperBaud }
func (SteppedAxis) pumpKind() {}

// SingleChannel is a continuous-rotation peristaltic pump on a TMC stepper.
type SingleChannel struct {
	Pins       wire.Pins
	StepsPerML float64
	Current    int
	Microsteps int
}

func (SingleChannel) Baud() int { return StepperBaud }
func (SingleChannel) pumpKind() {}

// DualChannel is an infuse-only syringe pump speaking the ASCII protocol.
type DualChannel struct {
	SyringeVolume   float64
	SyringeDiameter float64
}

func (DualChannel) Baud() int { return SyringeBaud }
func (DualChannel) pumpKind() {}

func NewPump(cfg Config, c *apparatus.ActiveComponent, kind PumpKind) (Driver, error) {
	if c.Kind != apparatus.Pump {
		return nil, apparatus.Invalid(c.Name, "not a pump")
	}
	switch k := kind.(type) {
	case SteppedAxis:
		if k.MotorID == "" {
			return nil, apparatus.Invalid(c.Name, "stepped pumps need a motor id")
		}
		if cfg.Profiles == nil {
			return nil, apparatus.Invalid(c.Name, "stepped pumps need motor profiles")
		}
		return &SteppedPump{link: newLink(cfg, c, k.Baud()), name: c.Name, kind: k}, nil
	case SingleChannel:
		if k.StepsPerML <= 0 {
			return nil, apparatus.Invalid(c.Name, "steps per mL must be positive")
		}
		if k.Current == 0 {
			k.Current = DefaultCurrent
		}
		if k.Microsteps == 0 {
			k.Microsteps = DefaultMicrosteps
		}
		return &PeristalticPump{link: newLink(cfg, c, k.Baud()), name: c.Name, kind: k}, nil
	case DualChannel:
		if k.SyringeDiameter <= 0 || k.SyringeVolume <= 0 {
			return nil, apparatus.Invalid(c.Name, "syringe volume and diameter must be positive")
		}
		return &SyringePump{link: newLink(cfg, c, k.Baud()), name: c.Name, kind: k}, nil
	case nil:
		return nil, apparatus.Invalid(c.Name, "missing pump kind")
	}
	return nil, apparatus.Invalid(c.Name, fmt.Sprintf("unsupported pump kind %T", kind))
}

func flowRate(name string, sp apparatus.Setpoint) (float64, error) {
	if sp.Position != "" {
		return 0, apparatus.Invalid(name, "pumps take a flow rate, not a setting")
	}
	if sp.Rate.IsZero() {
		return 0, nil
	}
	return sp.Rate.In("mL/min")
}

// SteppedPump drives a calibrated syringe stepper.
type SteppedPump struct {
	link
	name    string
	kind    SteppedAxis
	model   *calibration.Model
	ratio   float64
	pins    wire.Pins
	running bool
	last    string
}

func (p *SteppedPump) Name() string { return p.name }

// Open resolves the motor's calibration and pins, then acquires the port.
func (p *SteppedPump) Open(ctx context.Context) error {
	motor, err := p.cfg.Profiles.Motor(p.kind.MotorID)
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	model, err := motor.Model()
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	_, pins, err := p.cfg.Profiles.FindMCUForMotor(p.kind.MotorID)
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	p.model = model
	p.pins = wire.Pins{Step: pins.Step, Dir: pins.Dir}
	p.ratio = calibration.ScaleForDiameter(motor.CalibratedDiameter(), p.kind.SyringeDiameter)
	if p.ratio != 1 {
		p.logger.Info("scaling for syringe diameter",
			zap.Float64("calibrated", motor.CalibratedDiameter()),
			zap.Float64("current", p.kind.SyringeDiameter),
			zap.Float64("ratio", p.ratio),
		)
	}
	return p.open(ctx)
}

func (p *SteppedPump) Set(ctx context.Context, sp apparatus.Setpoint) error {
	if p.model == nil {
		return fmt.Errorf("%s: %w", p.name, ErrNotOpen)
	}
	flow, err := flowRate(p.name, sp)
	if err != nil {
		return err
	}
	s, err := p.model.Setting(flow, p.ratio)
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	if s.Stop {
		return p.Stop(ctx)
	}
	cmd := wire.BasicCommand(p.pins, s.Frequency, string(s.Direction))
	if p.running && cmd.String() == p.last {
		return nil
	}
	if p.running {
		if err := p.send(ctx, wire.StopCommand(p.pins)); err != nil {
			return err
		}
		if err := sleep(ctx, p.cfg.Settle); err != nil {
			return err
		}
	}
	if err := p.send(ctx, cmd); err != nil {
		return err
	}
	p.running = true
	p.last = cmd.String()
	p.logger.Info("rate set",
		zap.Float64("flow", flow),
		zap.Float64("freq", s.Frequency),
		zap.String("direction", string(s.Direction)),
	)
	return nil
}

func (p *SteppedPump) Stop(ctx context.Context) error {
	p.running = false
	p.last = ""
	return p.send(ctx, wire.StopCommand(p.pins))
}

func (p *SteppedPump) Close() error { return p.close() }

// PeristalticPump converts flow to step rate with a fixed steps-per-mL factor.
type PeristalticPump struct {
	link
	name    string
	kind    SingleChannel
	running bool
	last    string
}

func (p *PeristalticPump) Name() string { return p.name }

func (p *PeristalticPump) Open(ctx context.Context) error { return p.open(ctx) }

// Hz is the step frequency for flow mL/min.
func (k SingleChannel) Hz(flow float64) float64 {
	return math.Abs(flow) * k.StepsPerML / 60
}

func (p *PeristalticPump) Set(ctx context.Context, sp apparatus.Setpoint) error {
	flow, err := flowRate(p.name, sp)
	if err != nil {
		return err
	}
	if math.Abs(flow) <= calibration.StopThreshold {
		return p.Stop(ctx)
	}
	dir := calibration.Forward
	if flow < 0 {
		dir = calibration.Backward
	}
	cmd := wire.BasicCommand(p.kind.Pins, p.kind.Hz(flow), string(dir))
	cmd.Current = p.kind.Current
	cmd.Microsteps = p.kind.Microsteps
	if p.running && cmd.String() == p.last {
		return nil
	}
	if err := p.send(ctx, cmd); err != nil {
		return err
	}
	p.running = true
	p.last = cmd.String()
	return nil
}

func (p *PeristalticPump) Stop(ctx context.Context) error {
	p.running = false
	p.last = ""
	return p.send(ctx, wire.StopCommand(p.kind.Pins))
}

func (p *PeristalticPump) Close() error { return p.close() }

// SyringePump drives an infuse-only ASCII syringe pump.
type SyringePump struct {
	link
	name string
	kind DualChannel
	last float64
}

func (p *SyringePump) Name() string { return p.name }

// Open acquires the port and configures the syringe.
func (p *SyringePump) Open(ctx context.Context) error {
	if err := p.open(ctx); err != nil {
		return err
	}
	if err := p.send(ctx, wire.SyringeVolume(p.kind.SyringeVolume)); err != nil {
		return err
	}
	return p.send(ctx, wire.Diameter(p.kind.SyringeDiameter))
}

func (p *SyringePump) Set(ctx context.Context, sp apparatus.Setpoint) error {
	flow, err := flowRate(p.name, sp)
	if err != nil {
		return err
	}
	if flow < 0 {
		return apparatus.Invalid(p.name, "pump can only infuse")
	}
	if flow == 0 {
		return p.Stop(ctx)
	}
	if flow == p.last {
		return nil
	}
	if err := p.send(ctx, wire.InfuseRate(flow)); err != nil {
		return err
	}
	if err := p.send(ctx, wire.InfuseRun()); err != nil {
		return err
	}
	p.last = flow
	return nil
}

func (p *SyringePump) Stop(ctx context.Context) error {
	p.last = 0
	return p.send(ctx, wire.Halt())
}

func (p *SyringePump) Close() error { return p.close() }
