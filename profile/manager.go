package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/jt05610/flowchem/calibration"
	"go.uber.org/zap"
	"io"
	"sync"
	"time"
)

// Manager holds the MCU and motor lists in memory and writes every change
// through to its Store.
type Manager struct {
	store  Store
	logger *zap.Logger
	mu     sync.RWMutex
	mcus   []*MCUProfile
	motors []*MotorProfile
}

// Open loads both lists from store.
func Open(ctx context.Context, store Store, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: store, logger: logger}
	var err error
	if m.mcus, err = store.LoadMCUs(ctx); err != nil {
		return nil, fmt.Errorf("load MCU profiles: %w", err)
	}
	if m.motors, err = store.LoadMotors(ctx); err != nil {
		return nil, fmt.Errorf("load motor profiles: %w", err)
	}
	logger.Debug("loaded profiles", zap.Int("mcus", len(m.mcus)), zap.Int("motors", len(m.motors)))
	return m, nil
}

func newID() string {
	return uuid.New().String()
}

// commitMCUs saves next and adopts it once the store accepted it.
func (m *Manager) commitMCUs(ctx context.Context, next []*MCUProfile) error {
	if err := m.store.SaveMCUs(ctx, next); err != nil {
		return err
	}
	m.mcus = next
	return nil
}

func (m *Manager) commitMotors(ctx context.Context, next []*MotorProfile) error {
	if err := m.store.SaveMotors(ctx, next); err != nil {
		return err
	}
	m.motors = next
	return nil
}

// editMCUs runs edit on a copy of every MCU and saves the result when any
// copy changed. Live profiles are only updated after a successful save.
func (m *Manager) editMCUs(ctx context.Context, edit func(*MCUProfile) bool) error {
	next := make([]*MCUProfile, len(m.mcus))
	changed := make([]bool, len(m.mcus))
	dirty := false
	for i, p := range m.mcus {
		c := p.clone()
		if edit(c) {
			next[i], changed[i], dirty = c, true, true
			continue
		}
		next[i] = p
	}
	if !dirty {
		return nil
	}
	if err := m.store.SaveMCUs(ctx, next); err != nil {
		return err
	}
	for i, p := range m.mcus {
		if changed[i] {
			*p = *next[i]
		}
	}
	return nil
}

func (m *Manager) MCUs() []*MCUProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]*MCUProfile, len(m.mcus))
	copy(ret, m.mcus)
	return ret
}

func (m *Manager) Motors() []*MotorProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]*MotorProfile, len(m.motors))
	copy(ret, m.motors)
	return ret
}

func (m *Manager) mcu(id string) (int, *MCUProfile) {
	for i, p := range m.mcus {
		if p.UniqueID == id {
			return i, p
		}
	}
	return -1, nil
}

func (m *Manager) motor(id string) (int, *MotorProfile) {
	for i, p := range m.motors {
		if p.UniqueID == id {
			return i, p
		}
	}
	return -1, nil
}

func (m *Manager) MCU(id string) (*MCUProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, p := m.mcu(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("mcu %s: %w", id, ErrNotFound)
}

func (m *Manager) Motor(id string) (*MotorProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, p := m.motor(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("motor %s: %w", id, ErrNotFound)
}

// AddMCU stores a new MCU profile. An empty UniqueID gets a fresh one.
func (m *Manager) AddMCU(ctx context.Context, p *MCUProfile) (*MCUProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.UniqueID == "" {
		p.UniqueID = newID()
	}
	if _, found := m.mcu(p.UniqueID); found != nil {
		return nil, fmt.Errorf("mcu %s already exists", p.UniqueID)
	}
	if p.Motors == nil {
		p.Motors = make([]*MotorPins, 0)
	}
	next := append(append(make([]*MCUProfile, 0, len(m.mcus)+1), m.mcus...), p)
	if err := m.commitMCUs(ctx, next); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateMCU replaces the stored profile with the same UniqueID.
func (m *Manager) UpdateMCU(ctx context.Context, p *MCUProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, found := m.mcu(p.UniqueID)
	if found == nil {
		return fmt.Errorf("mcu %s: %w", p.UniqueID, ErrNotFound)
	}
	next := append(make([]*MCUProfile, 0, len(m.mcus)), m.mcus...)
	next[i] = p
	return m.commitMCUs(ctx, next)
}

func (m *Manager) DeleteMCU(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, found := m.mcu(id)
	if found == nil {
		return fmt.Errorf("mcu %s: %w", id, ErrNotFound)
	}
	next := append(append(make([]*MCUProfile, 0, len(m.mcus)), m.mcus[:i]...), m.mcus[i+1:]...)
	return m.commitMCUs(ctx, next)
}

func (m *Manager) AddMotor(ctx context.Context, p *MotorProfile) (*MotorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.UniqueID == "" {
		p.UniqueID = newID()
	}
	if _, found := m.motor(p.UniqueID); found != nil {
		return nil, fmt.Errorf("motor %s already exists", p.UniqueID)
	}
	next := append(append(make([]*MotorProfile, 0, len(m.motors)+1), m.motors...), p)
	if err := m.commitMotors(ctx, next); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Manager) UpdateMotor(ctx context.Context, p *MotorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, found := m.motor(p.UniqueID)
	if found == nil {
		return fmt.Errorf("motor %s: %w", p.UniqueID, ErrNotFound)
	}
	next := append(make([]*MotorProfile, 0, len(m.motors)), m.motors...)
	next[i] = p
	return m.commitMotors(ctx, next)
}

// DeleteMotor removes the motor and any association referring to it.
func (m *Manager) DeleteMotor(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, found := m.motor(id)
	if found == nil {
		return fmt.Errorf("motor %s: %w", id, ErrNotFound)
	}
	if err := m.editMCUs(ctx, func(c *MCUProfile) bool { return c.detach(id) }); err != nil {
		return err
	}
	next := append(append(make([]*MotorProfile, 0, len(m.motors)), m.motors[:i]...), m.motors[i+1:]...)
	return m.commitMotors(ctx, next)
}

// Associate binds a motor to an MCU's step and dir pins. An existing
// association is overwritten, including one on a different MCU.
func (m *Manager) Associate(ctx context.Context, mcuID, motorID string, step, dir int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, mcu := m.mcu(mcuID)
	if mcu == nil {
		return fmt.Errorf("mcu %s: %w", mcuID, ErrNotFound)
	}
	_, motor := m.motor(motorID)
	if motor == nil {
		return fmt.Errorf("motor %s: %w", motorID, ErrNotFound)
	}
	moved := make([]string, 0)
	err := m.editMCUs(ctx, func(c *MCUProfile) bool {
		if c.UniqueID != mcuID {
			if c.detach(motorID) {
				moved = append(moved, c.UniqueID)
				return true
			}
			return false
		}
		if pins, ok := c.Pins(motorID); ok {
			pins.Step, pins.Dir, pins.Name = step, dir, motor.Name
			return true
		}
		c.Motors = append(c.Motors, &MotorPins{
			UniqueID: motorID,
			Name:     motor.Name,
			Step:     step,
			Dir:      dir,
		})
		return true
	})
	if err != nil {
		return err
	}
	for _, from := range moved {
		m.logger.Info("moved motor",
			zap.String("motor", motorID),
			zap.String("from", from),
			zap.String("to", mcuID),
		)
	}
	return nil
}

// FindMCUForMotor returns the MCU the motor is associated with.
func (m *Manager) FindMCUForMotor(motorID string) (*MCUProfile, *MotorPins, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mcu := range m.mcus {
		if pins, ok := mcu.Pins(motorID); ok {
			return mcu, pins, nil
		}
	}
	return nil, nil, fmt.Errorf("no mcu for motor %s: %w", motorID, ErrNotFound)
}

// SetLastPort records the port an MCU was last seen on.
func (m *Manager) SetLastPort(ctx context.Context, mcuID, port string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, mcu := m.mcu(mcuID); mcu == nil {
		return fmt.Errorf("mcu %s: %w", mcuID, ErrNotFound)
	}
	err := m.editMCUs(ctx, func(c *MCUProfile) bool {
		if c.UniqueID != mcuID {
			return false
		}
		c.LastConnectedPort = port
		return true
	})
	return err
}

// Calibrate fits the trials and stores the result on the motor. Two trials
// give the exact two-point line; more are fitted by least squares.
func (m *Manager) Calibrate(ctx context.Context, motorID string, syringe SyringeInfo, trials ...calibration.Trial) (*calibration.Model, error) {
	var (
		model *calibration.Model
		err   error
	)
	if len(trials) == 2 {
		model, err = calibration.Fit(trials[0], trials[1])
	} else {
		model, err = calibration.FitLeastSquares(trials...)
	}
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, motor := m.motor(motorID)
	if motor == nil {
		return nil, fmt.Errorf("motor %s: %w", motorID, ErrNotFound)
	}
	cal := *motor
	cal.Apply(model, syringe, time.Now())
	next := append(make([]*MotorProfile, 0, len(m.motors)), m.motors...)
	next[i] = &cal
	if err := m.store.SaveMotors(ctx, next); err != nil {
		return nil, err
	}
	*motor = cal
	m.logger.Info("calibrated motor",
		zap.String("motor", motorID),
		zap.Float64("slope", model.Slope),
		zap.Float64("intercept", model.Intercept),
		zap.Float64("min", model.Min),
		zap.Float64("max", model.Max),
	)
	return model, nil
}

// Export writes one list as indented JSON.
func (m *Manager) Export(w io.Writer, kind Kind) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	switch kind {
	case MCUs:
		return enc.Encode(m.mcus)
	case Motors:
		return enc.Encode(m.motors)
	}
	return fmt.Errorf("%q: %w", kind, ErrUnknownKind)
}

// Import replaces one list with the JSON read from r.
func (m *Manager) Import(ctx context.Context, r io.Reader, kind Kind) error {
	dec := json.NewDecoder(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case MCUs:
		var mcus []*MCUProfile
		if err := dec.Decode(&mcus); err != nil {
			return fmt.Errorf("import mcus: %w", err)
		}
		return m.commitMCUs(ctx, mcus)
	case Motors:
		var motors []*MotorProfile
		if err := dec.Decode(&motors); err != nil {
			return fmt.Errorf("import motors: %w", err)
		}
		return m.commitMotors(ctx, motors)
	}
	return fmt.Errorf("%q: %w", kind, ErrUnknownKind)
}
