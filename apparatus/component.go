package apparatus

import (
	"fmt"
	"github.com/jt05610/flowchem/units"
	"sort"
)

type Kind int

const (
	Vessel Kind = iota
	Pump
	Valve
	Sensor
	Mixer
)

var kinds = []string{
	Vessel: "Vessel",
	Pump:   "Pump",
	Valve:  "Valve",
	Sensor: "Sensor",
	Mixer:  "Mixer",
}

func (k Kind) String() string {
	if int(k) < len(kinds) {
		return kinds[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts the lower or title case kind names.
func ParseKind(s string) (Kind, error) {
	for i, k := range kinds {
		if s == k || s == lower(k) {
			return Kind(i), nil
		}
	}
	return 0, Invalid("kind", fmt.Sprintf("unknown component kind %q", s))
}

func lower(s string) string {
	b := []byte(s)
	if len(b) > 0 && b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}

func (k Kind) Active() bool {
	return k == Pump || k == Valve || k == Sensor
}

// Component is one irreducible part of a flow setup.
type Component struct {
	Name        string
	Kind        Kind
	Description string
}

func (c *Component) String() string { return c.Name }

// Setpoint is the runtime attribute of an active component: a flow rate for
// pumps, a sampling rate for sensors, a named position for valves.
type Setpoint struct {
	Rate     units.Quantity
	Position string
}

func Rate(q units.Quantity) Setpoint { return Setpoint{Rate: q} }

func Position(name string) Setpoint { return Setpoint{Position: name} }

// IsZero reports whether the setpoint means "off".
func (s Setpoint) IsZero() bool {
	return s.Position == "" && s.Rate.IsZero()
}

func (s Setpoint) Equal(o Setpoint) bool {
	if s.Position != o.Position {
		return false
	}
	if s.Rate.IsZero() && o.Rate.IsZero() {
		return true
	}
	return s.Rate.Equal(o.Rate)
}

func (s Setpoint) String() string {
	if s.Position != "" {
		return s.Position
	}
	if s.Rate.Unit == "" && s.Rate.IsZero() {
		return "0"
	}
	return s.Rate.String()
}

// ActiveComponent is a controllable component bound to a physical address.
// Its Setpoint is only written by the task executing it.
type ActiveComponent struct {
	*Component
	Address  string
	Mapping  map[string]int
	Setpoint Setpoint
}

// Active reports whether a sensor is collecting or a pump is moving.
func (a *ActiveComponent) Active() bool {
	return !a.Setpoint.IsZero()
}

// Positions returns the valve setting names ordered by position number.
func (a *ActiveComponent) Positions() []string {
	ret := make([]string, 0, len(a.Mapping))
	for k := range a.Mapping {
		ret = append(ret, k)
	}
	sort.Slice(ret, func(i, j int) bool {
		return a.Mapping[ret[i]] < a.Mapping[ret[j]]
	})
	return ret
}

// Check verifies the setpoint is meaningful for this component's kind.
func (a *ActiveComponent) Check(s Setpoint) error {
	switch a.Kind {
	case Pump:
		if s.Position != "" {
			return Invalid(a.Name, "pumps take a flow rate, not a setting")
		}
		if s.Rate.IsZero() {
			return nil
		}
		if err := s.Rate.Expect(units.FlowRate); err != nil {
			return Invalid(a.Name, "bad rate", err)
		}
	case Sensor:
		if s.Position != "" {
			return Invalid(a.Name, "sensors take a sampling rate, not a setting")
		}
		if s.Rate.IsZero() {
			return nil
		}
		if err := s.Rate.Expect(units.Frequency); err != nil {
			return Invalid(a.Name, "bad rate", err)
		}
	case Valve:
		if s.Position == "" {
			return Invalid(a.Name, "valves take a named setting")
		}
		if _, ok := a.Mapping[s.Position]; !ok {
			return Invalid(a.Name, fmt.Sprintf("unknown setting %q", s.Position))
		}
	default:
		return Invalid(a.Name, fmt.Sprintf("%s is not controllable", a.Kind))
	}
	return nil
}
