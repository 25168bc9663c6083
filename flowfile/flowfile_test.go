package flowfile_test

import (
	"bytes"
	"context"
	"errors"
	"github.com/jt05610/flowchem/apparatus"
	"github.com/jt05610/flowchem/comm/serial"
	"github.com/jt05610/flowchem/comm/serial/serialtest"
	"github.com/jt05610/flowchem/device"
	"github.com/jt05610/flowchem/flowfile"
	"github.com/jt05610/flowchem/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

func load(t *testing.T) *flowfile.Run {
	t.Helper()
	doc, err := flowfile.LoadFile("testdata/quench.yaml")
	require.NoError(t, err)
	run, err := doc.Build(apparatus.NewNameRegistry(), nil)
	require.NoError(t, err)
	return run
}

func TestBuild(t *testing.T) {
	run := load(t)
	assert.Len(t, run.Apparatus.Components(), 8)
	assert.Len(t, run.Apparatus.Edges(), 7)
	assert.Len(t, run.Apparatus.ActiveComponents(), 3)

	require.Contains(t, run.Pumps, "pump_a")
	assert.Equal(t, device.SteppedAxis{MotorID: "m1", SyringeDiameter: 14.5, SyringeVolume: 10}, run.Pumps["pump_a"])
	assert.Equal(t, device.DualChannel{SyringeVolume: 5, SyringeDiameter: 12.45}, run.Pumps["pump_b"])

	s, err := run.Protocol.Build()
	require.NoError(t, err)
	assert.Equal(t, 7*time.Minute, s.Duration())

	valve, ok := s.Timeline("selector")
	require.True(t, ok)
	require.Len(t, valve.Windows, 2)
	assert.Equal(t, "collect", valve.Windows[1].Value.Position)

	quench, ok := s.Timeline("pump_b")
	require.True(t, ok)
	flow, err := quench.Windows[0].Value.Rate.In("mL/min")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, flow, 1e-9)
	assert.Equal(t, 30*time.Second, quench.Windows[0].Start)
}

func TestLoadRejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
	}{
		{
			name: "unknown_field",
			doc:  "name: x\ncolour: blue\n",
		},
		{
			name: "bad_kind",
			doc:  "name: x\ncomponents:\n  - {name: a, kind: reactor}\n",
		},
		{
			name: "unknown_tube_end",
			doc:  "name: x\ncomponents:\n  - {name: a, kind: vessel}\ntubes:\n  - {from: a, to: b, length: 1 cm, id: 1 mm, od: 2 mm}\n",
		},
		{
			name: "two_values",
			doc: "name: x\ncomponents:\n  - {name: p, kind: pump, address: COM1}\n" +
				"protocol:\n  - {component: p, duration: 1 min, rate: 1 mL/min, setting: a}\n",
		},
		{
			name: "bad_pump_type",
			doc:  "name: x\ncomponents:\n  - {name: p, kind: pump, address: COM1, pump: {type: piston}}\n",
		},
		{
			name: "bad_duration",
			doc: "name: x\ncomponents:\n  - {name: p, kind: pump, address: COM1}\n" +
				"protocol:\n  - {component: p, duration: soon, rate: 1 mL/min}\n",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := flowfile.Load(strings.NewReader(tc.doc))
			if err != nil {
				return
			}
			_, err = doc.Build(nil, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apparatus.ErrValidation), err.Error())
		})
	}
}

func TestEval(t *testing.T) {
	for _, tc := range []struct {
		src  string
		vars map[string]float64
		want float64
	}{
		{"2 * rate", map[string]float64{"rate": 1.5}, 3},
		{"total / n", map[string]float64{"total": 3, "n": 4}, 0.75},
		{"a > b ? a : b", map[string]float64{"a": 1, "b": 2}, 2},
		{"4", nil, 4},
	} {
		t.Run(tc.src, func(t *testing.T) {
			got, err := flowfile.Eval(tc.src, tc.vars)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-12)
		})
	}
	_, err := flowfile.Eval("missing + 1", nil)
	assert.Error(t, err)
}

func TestFlushLoad(t *testing.T) {
	doc, err := flowfile.LoadFile("testdata/quench.yaml")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, doc.Flush(&buf))
	again, err := flowfile.Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, doc, again)
}

func TestDrivers(t *testing.T) {
	run := load(t)
	pool := serial.NewPool(nil, serial.WithOpener(serialtest.NewOpener().Open))
	defer pool.Close()
	store, err := profile.NewFileStore(t.TempDir())
	require.NoError(t, err)
	profiles, err := profile.Open(context.Background(), store, nil)
	require.NoError(t, err)

	drivers, err := run.Drivers(device.Config{Transport: pool, Profiles: profiles, Responses: pool.Subscribe})
	require.NoError(t, err)
	names := make([]string, 0, len(drivers))
	for _, d := range drivers {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"pump_a", "pump_b", "selector"}, names)

	delete(run.Pumps, "pump_b")
	_, err = run.Drivers(device.Config{Transport: pool, Profiles: profiles})
	assert.ErrorIs(t, err, apparatus.ErrValidation)
}
