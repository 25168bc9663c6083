package profile

import (
	"errors"
	"fmt"
	"github.com/jt05610/flowchem/calibration"
	"time"
)

// DateLayout is the calibrationDate format written to motors.json.
const DateLayout = "2006-01-02 15:04:05"

var (
	ErrNotFound      = errors.New("profile not found")
	ErrNotCalibrated = fmt.Errorf("%w: motor is not calibrated", calibration.ErrCalibration)
	ErrUnknownKind   = errors.New("unknown profile kind")
)

type SyringeInfo struct {
	Brand           string  `json:"brand"`
	Model           string  `json:"model"`
	VolumeML        float64 `json:"volumeML"`
	InnerDiameterMM float64 `json:"innerDiameterMM"`
	// DiameterMM is the key written by older profile files.
	DiameterMM      float64 `json:"diameterMM,omitempty"`
	CalibrationDate string  `json:"calibrationDate"`
}

// MotorProfile is the persisted calibration of one stepper and syringe pairing.
type MotorProfile struct {
	UniqueID     string       `json:"uniqueID"`
	Name         string       `json:"name"`
	Calibrated   bool         `json:"calibrated"`
	UPSSlope     float64      `json:"UPSSlope,omitempty"`
	UPSIntercept float64      `json:"UPSIntercept,omitempty"`
	MinUPS       float64      `json:"minUPS,omitempty"`
	MaxUPS       float64      `json:"maxUPS,omitempty"`
	SyringeInfo  *SyringeInfo `json:"syringeInfo,omitempty"`
}

// Model returns the linear flow model stored in the profile.
func (m *MotorProfile) Model() (*calibration.Model, error) {
	if !m.Calibrated {
		return nil, fmt.Errorf("%s: %w", m.UniqueID, ErrNotCalibrated)
	}
	return &calibration.Model{
		Slope:     m.UPSSlope,
		Intercept: m.UPSIntercept,
		Min:       m.MinUPS,
		Max:       m.MaxUPS,
	}, nil
}

// Apply stores a fitted model and the syringe it was measured with.
func (m *MotorProfile) Apply(model *calibration.Model, syringe SyringeInfo, at time.Time) {
	m.UPSSlope = model.Slope
	m.UPSIntercept = model.Intercept
	m.MinUPS = model.Min
	m.MaxUPS = model.Max
	m.Calibrated = true
	syringe.CalibrationDate = at.Format(DateLayout)
	m.SyringeInfo = &syringe
}

// CalibratedDiameter is the inner diameter in mm of the calibration syringe,
// or 0 when unknown.
func (m *MotorProfile) CalibratedDiameter() float64 {
	if m.SyringeInfo == nil {
		return 0
	}
	if m.SyringeInfo.InnerDiameterMM > 0 {
		return m.SyringeInfo.InnerDiameterMM
	}
	return m.SyringeInfo.DiameterMM
}

// MotorPins associates a motor with the step and direction pins of an MCU.
type MotorPins struct {
	UniqueID string `json:"uniqueID"`
	Name     string `json:"name"`
	Step     int    `json:"step"`
	Dir      int    `json:"dir"`
}

type MCUProfile struct {
	UniqueID          string       `json:"uniqueID"`
	Name              string       `json:"name"`
	Motors            []*MotorPins `json:"motors"`
	LastConnectedPort string       `json:"lastConnectedPort,omitempty"`
}

func (m *MCUProfile) Pins(motorID string) (*MotorPins, bool) {
	for _, p := range m.Motors {
		if p.UniqueID == motorID {
			return p, true
		}
	}
	return nil, false
}

func (m *MCUProfile) clone() *MCUProfile {
	c := *m
	c.Motors = make([]*MotorPins, len(m.Motors))
	for i, p := range m.Motors {
		pins := *p
		c.Motors[i] = &pins
	}
	return &c
}

func (m *MCUProfile) detach(motorID string) bool {
	for i, p := range m.Motors {
		if p.UniqueID == motorID {
			m.Motors = append(m.Motors[:i], m.Motors[i+1:]...)
			return true
		}
	}
	return false
}

type Kind string

const (
	MCUs   Kind = "mcus"
	Motors Kind = "motors"
)
