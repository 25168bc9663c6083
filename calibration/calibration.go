package calibration

import (
	"errors"
	"fmt"
	"gonum.org/v1/gonum/stat"
	"math"
	"time"
)

const (
	// MinFlowFloor keeps the lower bound positive so 0 Hz never divides by zero.
	MinFlowFloor = 5e-6
	// MaxFrequency is the hardware ceiling in Hz.
	MaxFrequency = 1000.0
	// StopThreshold is the flow rate (mL/min) below which a pump is stopped.
	StopThreshold = 1e-6
)

var (
	ErrCalibration = errors.New("calibration error")
	ErrRange       = errors.New("flow rate out of calibrated range")
)

type CalibrationError struct {
	Reason string
}

func (e *CalibrationError) Error() string { return "calibration: " + e.Reason }

func (e *CalibrationError) Is(target error) bool { return target == ErrCalibration }

// RangeError reports a flow rate outside [Min, Max).
type RangeError struct {
	Flow float64
	Min  float64
	Max  float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("flow rate %g mL/min outside calibrated range [%g, %g)", e.Flow, e.Min, e.Max)
}

func (e *RangeError) Is(target error) bool { return target == ErrRange }

// Trial is one timed calibration run at a fixed step frequency.
type Trial struct {
	Frequency float64
	// Volume dispensed in mL.
	Volume   float64
	Duration time.Duration
}

// FlowRate in mL/min.
func (t Trial) FlowRate() float64 {
	return t.Volume / t.Duration.Minutes()
}

func (t Trial) check() error {
	if t.Volume <= 0 {
		return &CalibrationError{Reason: fmt.Sprintf("measured volume must be positive, got %g", t.Volume)}
	}
	if t.Duration <= 0 {
		return &CalibrationError{Reason: fmt.Sprintf("trial duration must be positive, got %s", t.Duration)}
	}
	return nil
}

// Model is the linear map flow = Slope*freq + Intercept, valid on [Min, Max).
type Model struct {
	Slope     float64
	Intercept float64
	Min       float64
	Max       float64
}

func newModel(slope, intercept float64) (*Model, error) {
	if slope <= 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return nil, &CalibrationError{Reason: fmt.Sprintf("flow must increase with frequency, got slope %g", slope)}
	}
	m := &Model{
		Slope:     slope,
		Intercept: intercept,
		Min:       intercept,
		Max:       slope*MaxFrequency + intercept,
	}
	if m.Min < MinFlowFloor {
		m.Min = MinFlowFloor
	}
	return m, nil
}

// Fit solves the two-point line through the observed flow rates.
func Fit(a, b Trial) (*Model, error) {
	for _, t := range []Trial{a, b} {
		if err := t.check(); err != nil {
			return nil, err
		}
	}
	if a.Frequency == b.Frequency {
		return nil, &CalibrationError{Reason: fmt.Sprintf("trial frequencies must differ, both are %g Hz", a.Frequency)}
	}
	fa, fb := a.FlowRate(), b.FlowRate()
	slope := (fb - fa) / (b.Frequency - a.Frequency)
	return newModel(slope, fa-slope*a.Frequency)
}

// FitLeastSquares fits any number of trials (at least two distinct
// frequencies) by ordinary least squares.
func FitLeastSquares(trials ...Trial) (*Model, error) {
	if len(trials) < 2 {
		return nil, &CalibrationError{Reason: "need at least two trials"}
	}
	xs := make([]float64, len(trials))
	ys := make([]float64, len(trials))
	distinct := false
	for i, t := range trials {
		if err := t.check(); err != nil {
			return nil, err
		}
		xs[i] = t.Frequency
		ys[i] = t.FlowRate()
		if xs[i] != xs[0] {
			distinct = true
		}
	}
	if !distinct {
		return nil, &CalibrationError{Reason: "trial frequencies must differ"}
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	return newModel(slope, intercept)
}

// FlowRate is the calibrated flow at freq for the calibration syringe.
func (m *Model) FlowRate(freq float64) float64 {
	return m.Slope*freq + m.Intercept
}

// ToFrequency inverts the model. flow must lie in [Min, Max).
func (m *Model) ToFrequency(flow float64) (float64, error) {
	if flow < m.Min || flow >= m.Max {
		return 0, &RangeError{Flow: flow, Min: m.Min, Max: m.Max}
	}
	return (flow - m.Intercept) / m.Slope, nil
}

// ScaleForDiameter returns (calibrated/current)^2, the factor by which a
// requested flow is multiplied before inversion when the syringe in use is not
// the one the motor was calibrated with. Unknown diameters give 1.
func ScaleForDiameter(calibrated, current float64) float64 {
	if calibrated <= 0 || current <= 0 || calibrated == current {
		return 1
	}
	r := calibrated / current
	return r * r
}

// DeliveredFlow is the flow produced at freq through a syringe whose area
// differs from the calibration syringe by 1/ratio.
func (m *Model) DeliveredFlow(freq, ratio float64) float64 {
	return m.FlowRate(freq) / ratio
}

type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// Setting is what a stepper driver needs to realise a flow rate.
type Setting struct {
	Frequency float64
	Direction Direction
	Stop      bool
}

// Setting converts a signed flow (mL/min, negative aspirates) into a step
// frequency and direction. The diameter ratio is applied to the requested flow
// before the range check and inversion.
func (m *Model) Setting(flow, ratio float64) (Setting, error) {
	dir := Forward
	if flow < 0 {
		dir = Backward
	}
	abs := math.Abs(flow)
	if abs <= StopThreshold {
		return Setting{Direction: dir, Stop: true}, nil
	}
	if ratio <= 0 {
		ratio = 1
	}
	freq, err := m.ToFrequency(abs * ratio)
	if err != nil {
		return Setting{}, err
	}
	return Setting{Frequency: freq, Direction: dir}, nil
}
