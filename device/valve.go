package device

import (
	"context"
	"fmt"
	"github.com/jt05610/flowchem/apparatus"
	"github.com/jt05610/flowchem/wire"
	"go.uber.org/zap"
)

const ValveBaud = 9600

// Valve moves a selector valve to the position mapped from a setting name.
type Valve struct {
	link
	name     string
	mapping  map[string]int
	position string
}

func NewValve(cfg Config, c *apparatus.ActiveComponent) *Valve {
	return &Valve{
		link:    newLink(cfg, c, ValveBaud),
		name:    c.Name,
		mapping: c.Mapping,
	}
}

func (v *Valve) Name() string { return v.name }

func (v *Valve) Open(ctx context.Context) error { return v.open(ctx) }

func (v *Valve) Set(ctx context.Context, sp apparatus.Setpoint) error {
	n, ok := v.mapping[sp.Position]
	if !ok {
		return apparatus.Invalid(v.name, fmt.Sprintf("unknown setting %q", sp.Position))
	}
	if sp.Position == v.position {
		return nil
	}
	if err := v.send(ctx, wire.Go(n)); err != nil {
		return err
	}
	v.logger.Info("valve moved", zap.String("setting", sp.Position), zap.Int("position", n))
	v.position = sp.Position
	return nil
}

// Stop leaves the valve where it is.
func (v *Valve) Stop(context.Context) error { return nil }

func (v *Valve) Close() error { return v.close() }
