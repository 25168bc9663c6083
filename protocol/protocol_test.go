package protocol_test

import (
	"github.com/jt05610/flowchem/apparatus"
	"github.com/jt05610/flowchem/protocol"
	"github.com/jt05610/flowchem/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func rig(t *testing.T) *apparatus.Apparatus {
	a := apparatus.New("rig", nil)
	p, err := a.Pump("pump", "COM3")
	require.NoError(t, err)
	q, err := a.Pump("other", "COM3")
	require.NoError(t, err)
	v, err := a.Valve("valve", "COM4", map[string]int{"waste": 1, "product": 2})
	require.NoError(t, err)
	out, err := a.Vessel("out", "")
	require.NoError(t, err)
	tube, err := apparatus.NewTube("1 m", "1 mm", "2 mm", "PFA")
	require.NoError(t, err)
	require.NoError(t, a.Add(p.Component, v.Component, tube))
	require.NoError(t, a.Add(q.Component, v.Component, tube))
	require.NoError(t, a.Add(v.Component, out, tube))
	return a
}

func rate(s string) apparatus.Setpoint {
	return apparatus.Rate(units.Must(units.Parse(s)))
}

func TestBuildConflict(t *testing.T) {
	for _, tc := range []struct {
		name     string
		second   time.Duration
		conflict bool
	}{
		{name: "overlap", second: 5 * time.Second, conflict: true},
		{name: "contiguous", second: 10 * time.Second},
		{name: "gap", second: 20 * time.Second},
		{name: "same_start", second: 0, conflict: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := protocol.New(rig(t), "")
			require.NoError(t, p.Add("pump", 0, 10*time.Second, rate("1 mL/min")))
			require.NoError(t, p.Add("pump", tc.second, 10*time.Second, rate("2 mL/min")))
			s, err := p.Build()
			if tc.conflict {
				assert.ErrorIs(t, err, protocol.ErrScheduleConflict)
				var ce *protocol.ScheduleConflictError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, "pump", ce.Component)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.second+10*time.Second, s.Duration())
		})
	}
}

func TestAddValidation(t *testing.T) {
	p := protocol.New(rig(t), "test")
	for _, tc := range []struct {
		name      string
		component string
		start     time.Duration
		duration  time.Duration
		value     apparatus.Setpoint
	}{
		{name: "unknown", component: "ghost", duration: time.Second, value: rate("1 mL/min")},
		{name: "passive", component: "out", duration: time.Second, value: rate("1 mL/min")},
		{name: "negative_start", component: "pump", start: -time.Second, duration: time.Second, value: rate("1 mL/min")},
		{name: "zero_duration", component: "pump", value: rate("1 mL/min")},
		{name: "wrong_dimension", component: "pump", duration: time.Second, value: rate("5 mm")},
		{name: "bad_setting", component: "valve", duration: time.Second, value: apparatus.Position("drain")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := p.Add(tc.component, tc.start, tc.duration, tc.value)
			assert.ErrorIs(t, err, apparatus.ErrValidation)
		})
	}
	assert.Empty(t, p.Entries())
	_, err := p.Build()
	assert.ErrorIs(t, err, apparatus.ErrValidation)
}

func TestTimelines(t *testing.T) {
	p := protocol.New(rig(t), "order")
	require.NoError(t, p.Add("valve", 0, 30*time.Second, apparatus.Position("waste")))
	require.NoError(t, p.Add("pump", 10*time.Second, 5*time.Second, rate("2 mL/min")))
	require.NoError(t, p.Add("pump", 0, 10*time.Second, rate("1 mL/min")))
	require.NoError(t, p.Add("other", 0, 5*time.Second, rate("1 mL/min")))
	s, err := p.Build()
	require.NoError(t, err)

	names := make([]string, 0)
	for _, tl := range s.Timelines() {
		names = append(names, tl.Component.Name)
	}
	assert.Equal(t, []string{"valve", "pump", "other"}, names)

	tl, ok := s.Timeline("pump")
	require.True(t, ok)
	require.Len(t, tl.Windows, 2)
	assert.Equal(t, time.Duration(0), tl.Windows[0].Start)
	assert.Equal(t, 2, tl.Windows[0].Seq)
	assert.True(t, tl.Windows[0].Contiguous(tl.Windows[1]))
	assert.Equal(t, 30*time.Second, s.Duration())

	assert.ErrorIs(t, p.Add("pump", 40*time.Second, time.Second, rate("1 mL/min")), protocol.ErrBuilt)
	_, err = p.Build()
	assert.ErrorIs(t, err, protocol.ErrBuilt)
}

func TestBuildTopology(t *testing.T) {
	a := rig(t)
	_, err := a.Pump("dead_end", "COM5")
	require.NoError(t, err)

	p := protocol.New(a, "")
	require.NoError(t, p.Add("dead_end", 0, time.Second, rate("0 mL/min")))
	_, err = p.Build()
	assert.NoError(t, err)

	p = protocol.New(a, "")
	require.NoError(t, p.Add("dead_end", 0, time.Second, rate("1 mL/min")))
	_, err = p.Build()
	assert.ErrorIs(t, err, apparatus.ErrTopology)
}

func TestBuildTopologySensor(t *testing.T) {
	a := rig(t)
	_, err := a.Sensor("uv", "COM6")
	require.NoError(t, err)

	p := protocol.New(a, "")
	require.NoError(t, p.Add("pump", 0, time.Second, rate("1 mL/min")))
	require.NoError(t, p.Add("uv", 0, time.Second, rate("0 Hz")))
	_, err = p.Build()
	assert.NoError(t, err)

	p = protocol.New(a, "")
	require.NoError(t, p.Add("uv", 0, time.Second, rate("2 Hz")))
	_, err = p.Build()
	assert.ErrorIs(t, err, apparatus.ErrTopology)
}
