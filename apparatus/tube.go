package apparatus

import (
	"fmt"
	"github.com/jt05610/flowchem/units"
	"math"
)

// Tube is the immutable metadata of an edge in the apparatus.
type Tube struct {
	Length        units.Quantity
	InnerDiameter units.Quantity
	OuterDiameter units.Quantity
	Material      string
	Temperature   *units.Quantity
	// Warning is set when the tube looks suspicious but is still accepted.
	Warning string
}

// NewTube parses and validates tube dimensions. temp is optional.
func NewTube(length, id, od, material string, temp ...string) (*Tube, error) {
	t := &Tube{Material: material}
	fields := []struct {
		name string
		raw  string
		into *units.Quantity
	}{
		{"length", length, &t.Length},
		{"inner diameter", id, &t.InnerDiameter},
		{"outer diameter", od, &t.OuterDiameter},
	}
	for _, f := range fields {
		q, err := units.Parse(f.raw)
		if err != nil {
			return nil, Invalid("tube "+f.name, "cannot parse "+f.raw, err)
		}
		*f.into = q
	}
	if len(temp) > 0 && temp[0] != "" {
		q, err := units.Parse(temp[0])
		if err != nil {
			return nil, Invalid("tube temperature", "cannot parse "+temp[0], err)
		}
		t.Temperature = &q
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tube) Validate() error {
	for name, q := range map[string]units.Quantity{
		"length":         t.Length,
		"inner diameter": t.InnerDiameter,
		"outer diameter": t.OuterDiameter,
	} {
		if err := q.Expect(units.Length); err != nil {
			return Invalid("tube "+name, "must be a length", err)
		}
	}
	if t.Temperature != nil {
		if err := t.Temperature.Expect(units.Temperature); err != nil {
			return Invalid("tube temperature", "must be a temperature", err)
		}
	}
	if t.OuterDiameter.Base() <= t.InnerDiameter.Base() {
		return Invalid("tube", fmt.Sprintf("outer diameter %s must be greater than inner diameter %s", t.OuterDiameter, t.InnerDiameter))
	}
	if t.Length.Base() <= t.OuterDiameter.Base() {
		t.Warning = "tube length is less than its diameter; check the length unit"
	} else {
		t.Warning = ""
	}
	return nil
}

// Volume returns the internal volume in mL.
func (t *Tube) Volume() float64 {
	r := t.InnerDiameter.Base() / 2
	// mm^3 to mL
	return math.Pi * r * r * t.Length.Base() / 1000
}

func (t *Tube) String() string {
	return fmt.Sprintf("Tube of length %s, ID %s, OD %s", t.Length, t.InnerDiameter, t.OuterDiameter)
}
