package cmd

import (
	"bytes"
	"context"
	"github.com/jt05610/flowchem/calibration"
	"github.com/jt05610/flowchem/comm/serial"
	"github.com/jt05610/flowchem/comm/serial/serialtest"
	"github.com/jt05610/flowchem/device"
	"github.com/jt05610/flowchem/profile"
	"github.com/jt05610/flowchem/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const quench = "../../../flowfile/testdata/quench.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env", filepath.Join(t.TempDir(), "none.env")))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", quench)
	require.NoError(t, err)
	assert.Contains(t, out, "total volume")
	assert.Contains(t, out, "ok: quench runs for 7m0s")
}

func TestParseTrial(t *testing.T) {
	tr, err := parseTrial("100 Hz,1.2 mL,60 s")
	require.NoError(t, err)
	assert.Equal(t, 100.0, tr.Frequency)
	assert.InDelta(t, 1.2, tr.FlowRate(), 1e-9)
	for _, bad := range []string{"100 Hz,1.2 mL", "1.2 mL,100 Hz,60 s", "100 Hz,1.2 mL,later"} {
		_, err := parseTrial(bad)
		assert.Error(t, err, bad)
	}
}

func TestProfileCommands(t *testing.T) {
	t.Setenv("FLOWCHEM_PROFILE_DIR", t.TempDir())
	t.Setenv("FLOWCHEM_COUCH_URI", "")

	mcu, err := execute(t, "profile", "add-mcu", "board", "--port", "/dev/ttyACM0")
	require.NoError(t, err)
	motor, err := execute(t, "profile", "add-motor", "axis-x")
	require.NoError(t, err)
	_, err = execute(t, "profile", "associate", strings.TrimSpace(mcu), strings.TrimSpace(motor), "--step", "2", "--dir", "5")
	require.NoError(t, err)

	out, err := execute(t, "profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "/dev/ttyACM0")
	assert.Contains(t, out, "axis-x")

	out, err = execute(t, "profile", "export", "mcus")
	require.NoError(t, err)
	assert.Contains(t, out, `"step": 2`)

	_, err = execute(t, "profile", "export", "pumps")
	assert.Error(t, err)
}

func TestViz(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "quench.dot")
	out, err := execute(t, "viz", quench, "-o", fn)
	require.NoError(t, err)
	assert.Contains(t, out, "8 components, 7 connections")
	bb, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Contains(t, string(bb), "selector")
}

func TestFitCommand(t *testing.T) {
	t.Setenv("FLOWCHEM_PROFILE_DIR", t.TempDir())
	t.Setenv("FLOWCHEM_COUCH_URI", "")
	motor, err := execute(t, "profile", "add-motor", "axis-y")
	require.NoError(t, err)
	id := strings.TrimSpace(motor)

	out, err := execute(t, "calibrate", "fit", id,
		"--trial", "100 Hz,1 mL,60 s",
		"--trial", "200 Hz,2.1 mL,60 s",
		"--trial", "300 Hz,2.9 mL,60 s",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "flow = 0.0095 * freq")
	trials = nil
}

func calibrated() *profile.MotorProfile {
	return &profile.MotorProfile{
		UniqueID:    "m1",
		Calibrated:  true,
		UPSSlope:    0.5,
		MinUPS:      calibration.MinFlowFloor,
		MaxUPS:      500,
		SyringeInfo: &profile.SyringeInfo{InnerDiameterMM: 14.5},
	}
}

func TestRateSetting(t *testing.T) {
	for _, tc := range []struct {
		name     string
		rate     string
		diameter float64
		reverse  bool
		freq     float64
		dir      calibration.Direction
	}{
		{name: "forward", rate: "2mL/min", freq: 4, dir: calibration.Forward},
		{name: "reverse", rate: "2 mL/min", reverse: true, freq: 4, dir: calibration.Backward},
		{name: "same syringe", rate: "2 mL/min", diameter: 14.5, freq: 4, dir: calibration.Forward},
		{name: "narrower syringe", rate: "2 mL/min", diameter: 7.25, freq: 16, dir: calibration.Forward},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, err := rateSetting(calibrated(), tc.rate, tc.diameter, tc.reverse)
			require.NoError(t, err)
			assert.InDelta(t, tc.freq, s.Frequency, 1e-9)
			assert.Equal(t, tc.dir, s.Direction)
		})
	}

	_, err := rateSetting(calibrated(), "2 mL", 0, false)
	assert.Error(t, err)
	_, err = rateSetting(calibrated(), "0 mL/min", 0, false)
	assert.Error(t, err)
	_, err = rateSetting(calibrated(), "900 mL/min", 0, false)
	assert.ErrorIs(t, err, calibration.ErrRange)
	_, err = rateSetting(&profile.MotorProfile{UniqueID: "raw"}, "1 mL/min", 0, false)
	assert.ErrorIs(t, err, calibration.ErrCalibration)
}

func TestRunTimed(t *testing.T) {
	o := serialtest.NewOpener()
	pool := serial.NewPool(zaptest.NewLogger(t), serial.WithOpener(o.Open))
	defer pool.Close()
	conn, err := pool.Acquire(context.Background(), "COM1", device.StepperBaud)
	require.NoError(t, err)
	pins := wire.Pins{Step: 2, Dir: 5}

	var out bytes.Buffer
	require.NoError(t, runTimed(context.Background(), &out, pool, conn, pins, 4, calibration.Forward, 20*time.Millisecond))
	assert.Equal(t, []string{
		`{"type":"timed","stepPin":2,"dirPin":5,"freq":4,"direction":"forward","timeValue":20,"timeUnit":"ms"}`,
	}, o.Port("COM1").Lines())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	err = runTimed(ctx, &out, pool, conn, pins, 16, calibration.Backward, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	lines := o.Port("COM1").Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, `{"type":"timed","stepPin":2,"dirPin":5,"freq":16,"direction":"backward","timeValue":10,"timeUnit":"s"}`, lines[1])
	assert.Equal(t, `{"type":"stop","stepPin":2,"dirPin":5}`, lines[2])
	assert.Contains(t, out.String(), "stopped")
}
