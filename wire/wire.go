package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Record is anything that can be written to a serial connection.
type Record interface {
	Encode() ([]byte, error)
}

type CommandType string

const (
	Basic CommandType = "basic"
	Timed CommandType = "timed"
	Stop  CommandType = "stop"
)

// Pins addresses one stepper on a microcontroller.
type Pins struct {
	Step int
	Dir  int
}

// Command is the newline terminated JSON record understood by the stepper
// firmware.
type Command struct {
	Type       CommandType `json:"type"`
	StepPin    int         `json:"stepPin"`
	DirPin     int         `json:"dirPin"`
	Freq       *float64    `json:"freq,omitempty"`
	Direction  string      `json:"direction,omitempty"`
	TimeValue  *float64    `json:"timeValue,omitempty"`
	TimeUnit   string      `json:"timeUnit,omitempty"`
	Current    int         `json:"current,omitempty"`
	Microsteps int         `json:"microsteps,omitempty"`
}

func (c *Command) Encode() ([]byte, error) {
	bb, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return append(bb, '\n'), nil
}

func (c *Command) String() string {
	bb, err := json.Marshal(c)
	if err != nil {
		return string(c.Type)
	}
	return string(bb)
}

// BasicCommand runs the motor continuously at freq Hz.
func BasicCommand(p Pins, freq float64, direction string) *Command {
	return &Command{
		Type:      Basic,
		StepPin:   p.Step,
		DirPin:    p.Dir,
		Freq:      &freq,
		Direction: direction,
	}
}

// TimedCommand runs the motor at freq Hz for d, expressed in the coarsest of
// ms, s, m or hr that represents d exactly.
func TimedCommand(p Pins, freq float64, direction string, d time.Duration) *Command {
	v, unit := TimeValue(d)
	return &Command{
		Type:      Timed,
		StepPin:   p.Step,
		DirPin:    p.Dir,
		Freq:      &freq,
		Direction: direction,
		TimeValue: &v,
		TimeUnit:  unit,
	}
}

func StopCommand(p Pins) *Command {
	return &Command{Type: Stop, StepPin: p.Step, DirPin: p.Dir}
}

var timeUnits = []struct {
	unit string
	d    time.Duration
}{
	{"hr", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
	{"ms", time.Millisecond},
}

func TimeValue(d time.Duration) (float64, string) {
	for _, u := range timeUnits {
		if d >= u.d && d%u.d == 0 {
			return float64(d / u.d), u.unit
		}
	}
	return float64(d) / float64(time.Millisecond), "ms"
}

// Text is an ASCII command for line oriented instruments.
type Text struct {
	Body       string
	Terminator string
}

func (t Text) Encode() ([]byte, error) {
	term := t.Terminator
	if term == "" {
		term = "\r"
	}
	return []byte(t.Body + term), nil
}

func (t Text) String() string { return t.Body }

func Textf(format string, args ...interface{}) Text {
	return Text{Body: fmt.Sprintf(format, args...)}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SyringeVolume sets the syringe volume of a syringe pump, in mL.
func SyringeVolume(ml float64) Text {
	return Textf("svolume %s ml", formatFloat(ml))
}

// Diameter sets the syringe inner diameter, in mm.
func Diameter(mm float64) Text {
	return Textf("diameter %s", formatFloat(mm))
}

// InfuseRate sets the infusion rate in mL/min.
func InfuseRate(mlPerMin float64) Text {
	return Textf("irate %s m/m", formatFloat(mlPerMin))
}

// InfuseRun starts infusion at the last set rate.
func InfuseRun() Text {
	return Text{Body: "irun"}
}

func Halt() Text {
	return Text{Body: "stop"}
}

// Go moves a selector valve to position n.
func Go(n int) Text {
	return Textf("GO%d", n)
}
