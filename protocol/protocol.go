package protocol

import (
	"errors"
	"fmt"
	"github.com/jt05610/flowchem/apparatus"
	"sort"
	"time"
)

var (
	ErrScheduleConflict = errors.New("schedule conflict")
	ErrBuilt            = errors.New("protocol already built")
)

// ScheduleConflictError reports two overlapping windows on one component.
type ScheduleConflictError struct {
	Component string
	First     Window
	Second    Window
}

func (e *ScheduleConflictError) Error() string {
	return fmt.Sprintf("%s: window [%s, %s) overlaps [%s, %s)",
		e.Component, e.Second.Start, e.Second.End, e.First.Start, e.First.End)
}

func (e *ScheduleConflictError) Is(target error) bool { return target == ErrScheduleConflict }

// Entry runs one component at a value from Start for Duration.
type Entry struct {
	Component string
	Start     time.Duration
	Duration  time.Duration
	Value     apparatus.Setpoint
}

// Protocol collects entries against an apparatus. It can be built once.
type Protocol struct {
	Name      string
	apparatus *apparatus.Apparatus
	entries   []Entry
	built     bool
}

func New(a *apparatus.Apparatus, name string) *Protocol {
	if name == "" {
		name = a.Name
	}
	return &Protocol{Name: name, apparatus: a}
}

func (p *Protocol) Apparatus() *apparatus.Apparatus { return p.apparatus }

// Add appends an entry after checking it against the component.
func (p *Protocol) Add(component string, start, duration time.Duration, value apparatus.Setpoint) error {
	if p.built {
		return ErrBuilt
	}
	ac, ok := p.apparatus.Active(component)
	if !ok {
		if _, exists := p.apparatus.Component(component); exists {
			return apparatus.Invalid(component, "component is not controllable")
		}
		return apparatus.Invalid(component, "component is not part of apparatus "+p.apparatus.Name)
	}
	if start < 0 {
		return apparatus.Invalid(component, fmt.Sprintf("start must not be negative, got %s", start))
	}
	if duration <= 0 {
		return apparatus.Invalid(component, fmt.Sprintf("duration must be positive, got %s", duration))
	}
	if err := ac.Check(value); err != nil {
		return err
	}
	p.entries = append(p.entries, Entry{
		Component: component,
		Start:     start,
		Duration:  duration,
		Value:     value,
	})
	return nil
}

func (p *Protocol) Entries() []Entry {
	ret := make([]Entry, len(p.entries))
	copy(ret, p.entries)
	return ret
}

// Window is the half-open interval [Start, End) during which Value holds.
// Seq is the insertion index of the entry it came from.
type Window struct {
	Start time.Duration
	End   time.Duration
	Value apparatus.Setpoint
	Seq   int
}

// Contiguous reports whether next starts exactly when w ends.
func (w Window) Contiguous(next Window) bool {
	return next.Start == w.End
}

type Timeline struct {
	Component *apparatus.ActiveComponent
	Windows   []Window
}

// Schedule is the immutable result of building a protocol.
type Schedule struct {
	Name      string
	Apparatus *apparatus.Apparatus
	timelines []*Timeline
	duration  time.Duration
}

// Build sorts each component's windows, rejects overlaps and checks the
// apparatus topology for every pump that will move.
func (p *Protocol) Build() (*Schedule, error) {
	if p.built {
		return nil, ErrBuilt
	}
	if len(p.entries) == 0 {
		return nil, apparatus.Invalid(p.Name, "protocol has no entries")
	}
	byName := make(map[string]*Timeline)
	s := &Schedule{Name: p.Name, Apparatus: p.apparatus}
	running := make(map[string]bool)
	for i, e := range p.entries {
		tl, ok := byName[e.Component]
		if !ok {
			ac, _ := p.apparatus.Active(e.Component)
			tl = &Timeline{Component: ac}
			byName[e.Component] = tl
			s.timelines = append(s.timelines, tl)
		}
		w := Window{Start: e.Start, End: e.Start + e.Duration, Value: e.Value, Seq: i}
		tl.Windows = append(tl.Windows, w)
		if w.End > s.duration {
			s.duration = w.End
		}
		if !e.Value.Rate.IsZero() {
			running[e.Component] = true
		}
	}
	for _, tl := range s.timelines {
		sort.SliceStable(tl.Windows, func(i, j int) bool {
			return tl.Windows[i].Start < tl.Windows[j].Start
		})
		for i := 1; i < len(tl.Windows); i++ {
			prev, next := tl.Windows[i-1], tl.Windows[i]
			if next.Start < prev.End {
				return nil, &ScheduleConflictError{Component: tl.Component.Name, First: prev, Second: next}
			}
		}
	}
	if err := p.apparatus.Validate(running); err != nil {
		return nil, err
	}
	p.built = true
	return s, nil
}

// Timelines returns one timeline per component in first-entry order.
func (s *Schedule) Timelines() []*Timeline {
	ret := make([]*Timeline, len(s.timelines))
	copy(ret, s.timelines)
	return ret
}

// Duration is the end of the last window.
func (s *Schedule) Duration() time.Duration { return s.duration }

// Timeline returns the windows of one component.
func (s *Schedule) Timeline(component string) (*Timeline, bool) {
	for _, tl := range s.timelines {
		if tl.Component.Name == component {
			return tl, true
		}
	}
	return nil, false
}
