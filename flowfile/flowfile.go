// Package flowfile loads run documents: the apparatus, the pump hardware
// behind it and the timed protocol, all in one YAML (or JSON) file.
package flowfile

import (
	"fmt"
	"github.com/expr-lang/expr"
	"github.com/jt05610/flowchem/apparatus"
	"github.com/jt05610/flowchem/device"
	"github.com/jt05610/flowchem/protocol"
	"github.com/jt05610/flowchem/units"
	"github.com/jt05610/flowchem/wire"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"io"
	"os"
	"time"
)

type Document struct {
	Name       string      `yaml:"name"`
	Components []Component `yaml:"components"`
	Tubes      []Tube      `yaml:"tubes"`
	Protocol   []Entry     `yaml:"protocol"`
}

type Component struct {
	Name        string         `yaml:"name"`
	Kind        string         `yaml:"kind"`
	Description string         `yaml:"description,omitempty"`
	Address     string         `yaml:"address,omitempty"`
	Mapping     map[string]int `yaml:"mapping,omitempty"`
	Pump        *Pump          `yaml:"pump,omitempty"`
}

// Pump describes the hardware family behind a pump component.
type Pump struct {
	Type            string  `yaml:"type"`
	Motor           string  `yaml:"motor,omitempty"`
	SyringeDiameter string  `yaml:"syringe_diameter,omitempty"`
	SyringeVolume   string  `yaml:"syringe_volume,omitempty"`
	StepsPerML      float64 `yaml:"steps_per_ml,omitempty"`
	StepPin         int     `yaml:"step_pin,omitempty"`
	DirPin          int     `yaml:"dir_pin,omitempty"`
	Current         int     `yaml:"current,omitempty"`
	Microsteps      int     `yaml:"microsteps,omitempty"`
}

const (
	Stepped = "stepped"
	Single  = "single"
	Dual    = "dual"
)

type Tube struct {
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Length      string `yaml:"length"`
	ID          string `yaml:"id"`
	OD          string `yaml:"od"`
	Material    string `yaml:"material,omitempty"`
	Temperature string `yaml:"temperature,omitempty"`
}

// Entry is one protocol line. Exactly one of Rate, Setting or Expr is set.
// Expr is evaluated against Vars and read in Unit.
type Entry struct {
	Component string             `yaml:"component"`
	Start     string             `yaml:"start"`
	Duration  string             `yaml:"duration"`
	Rate      string             `yaml:"rate,omitempty"`
	Setting   string             `yaml:"setting,omitempty"`
	Expr      string             `yaml:"expr,omitempty"`
	Vars      map[string]float64 `yaml:"vars,omitempty"`
	Unit      string             `yaml:"unit,omitempty"`
}

func Load(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode run document: %w", err)
	}
	return &doc, nil
}

func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func (d *Document) Flush(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(d)
}

// Run is a built document ready for execution.
type Run struct {
	Apparatus *apparatus.Apparatus
	Protocol  *protocol.Protocol
	Pumps     map[string]device.PumpKind
}

// Build assembles the apparatus and protocol. Names are drawn from reg.
func (d *Document) Build(reg *apparatus.NameRegistry, logger *zap.Logger) (*Run, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := apparatus.New(d.Name, reg, apparatus.WithLogger(logger))
	run := &Run{Apparatus: a, Pumps: make(map[string]device.PumpKind)}
	for _, c := range d.Components {
		if err := d.addComponent(run, c); err != nil {
			return nil, err
		}
	}
	for _, t := range d.Tubes {
		from, ok := a.Component(t.From)
		if !ok {
			return nil, apparatus.Invalid(t.From, "tube starts at unknown component")
		}
		to, ok := a.Component(t.To)
		if !ok {
			return nil, apparatus.Invalid(t.To, "tube ends at unknown component")
		}
		var temp []string
		if t.Temperature != "" {
			temp = append(temp, t.Temperature)
		}
		tube, err := apparatus.NewTube(t.Length, t.ID, t.OD, t.Material, temp...)
		if err != nil {
			return nil, err
		}
		if err := a.Add(from, to, tube); err != nil {
			return nil, err
		}
	}
	run.Protocol = protocol.New(a, d.Name)
	for i, e := range d.Protocol {
		if err := addEntry(run.Protocol, e); err != nil {
			return nil, fmt.Errorf("protocol entry %d: %w", i, err)
		}
	}
	return run, nil
}

func (d *Document) addComponent(run *Run, c Component) error {
	kind, err := apparatus.ParseKind(c.Kind)
	if err != nil {
		return err
	}
	a := run.Apparatus
	switch kind {
	case apparatus.Vessel:
		_, err = a.Vessel(c.Name, c.Description)
	case apparatus.Mixer:
		_, err = a.Mixer(c.Name)
	case apparatus.Sensor:
		_, err = a.Sensor(c.Name, c.Address)
	case apparatus.Valve:
		_, err = a.Valve(c.Name, c.Address, c.Mapping)
	case apparatus.Pump:
		var ac *apparatus.ActiveComponent
		ac, err = a.Pump(c.Name, c.Address)
		if err != nil {
			return err
		}
		if c.Pump == nil {
			return nil
		}
		pk, err := c.Pump.kind(ac.Name)
		if err != nil {
			return err
		}
		run.Pumps[ac.Name] = pk
	}
	return err
}

func optional(name, s string, dim units.Dimension, unit string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	q, err := units.ParseAs(s, dim)
	if err != nil {
		return 0, apparatus.Invalid(name, "bad pump parameter", err)
	}
	return q.In(unit)
}

func (p *Pump) kind(name string) (device.PumpKind, error) {
	diameter, err := optional(name, p.SyringeDiameter, units.Length, "mm")
	if err != nil {
		return nil, err
	}
	volume, err := optional(name, p.SyringeVolume, units.Volume, "mL")
	if err != nil {
		return nil, err
	}
	switch p.Type {
	case Stepped:
		return device.SteppedAxis{MotorID: p.Motor, SyringeDiameter: diameter, SyringeVolume: volume}, nil
	case Single:
		pins := device.DefaultPins
		if p.StepPin != 0 || p.DirPin != 0 {
			pins = wire.Pins{Step: p.StepPin, Dir: p.DirPin}
		}
		return device.SingleChannel{
			Pins:       pins,
			StepsPerML: p.StepsPerML,
			Current:    p.Current,
			Microsteps: p.Microsteps,
		}, nil
	case Dual:
		return device.DualChannel{SyringeVolume: volume, SyringeDiameter: diameter}, nil
	}
	return nil, apparatus.Invalid(name, fmt.Sprintf("unknown pump type %q", p.Type))
}

func addEntry(p *protocol.Protocol, e Entry) error {
	start := time.Duration(0)
	var err error
	if e.Start != "" {
		start, err = units.ParseDuration(e.Start)
		if err != nil {
			return apparatus.Invalid(e.Component, "bad start", err)
		}
	}
	duration, err := units.ParseDuration(e.Duration)
	if err != nil {
		return apparatus.Invalid(e.Component, "bad duration", err)
	}
	value, err := e.value()
	if err != nil {
		return err
	}
	return p.Add(e.Component, start, duration, value)
}

func (e Entry) value() (apparatus.Setpoint, error) {
	set := 0
	for _, s := range []string{e.Rate, e.Setting, e.Expr} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return apparatus.Setpoint{}, apparatus.Invalid(e.Component, "entry needs exactly one of rate, setting or expr")
	}
	switch {
	case e.Setting != "":
		return apparatus.Position(e.Setting), nil
	case e.Rate != "":
		q, err := units.Parse(e.Rate)
		if err != nil {
			return apparatus.Setpoint{}, apparatus.Invalid(e.Component, "bad rate", err)
		}
		return apparatus.Rate(q), nil
	}
	v, err := Eval(e.Expr, e.Vars)
	if err != nil {
		return apparatus.Setpoint{}, apparatus.Invalid(e.Component, "bad rate expression", err)
	}
	q, err := units.New(v, e.Unit)
	if err != nil {
		return apparatus.Setpoint{}, apparatus.Invalid(e.Component, "bad rate unit", err)
	}
	return apparatus.Rate(q), nil
}

// Eval evaluates a numeric expression over vars.
func Eval(src string, vars map[string]float64) (float64, error) {
	env := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		env[k] = v
	}
	program, err := expr.Compile(src, expr.Env(env), expr.AsFloat64())
	if err != nil {
		return 0, err
	}
	ret, err := expr.Run(program, env)
	if err != nil {
		return 0, err
	}
	return ret.(float64), nil
}

// Drivers builds one driver per active component. Pumps without hardware
// in the document are an error.
func (r *Run) Drivers(cfg device.Config) ([]device.Driver, error) {
	ret := make([]device.Driver, 0)
	for _, ac := range r.Apparatus.ActiveComponents() {
		d, err := device.New(cfg, ac, r.Pumps[ac.Name])
		if err != nil {
			return nil, err
		}
		ret = append(ret, d)
	}
	return ret, nil
}
