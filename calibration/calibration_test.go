package calibration_test

import (
	"github.com/jt05610/flowchem/calibration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math"
	"testing"
	"time"
)

func TestFitRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		a, b calibration.Trial
	}{
		{
			name: "typical",
			a:    calibration.Trial{Frequency: 100, Volume: 0.52, Duration: 60 * time.Second},
			b:    calibration.Trial{Frequency: 500, Volume: 2.48, Duration: 60 * time.Second},
		},
		{
			name: "different_durations",
			a:    calibration.Trial{Frequency: 50, Volume: 0.1, Duration: 30 * time.Second},
			b:    calibration.Trial{Frequency: 800, Volume: 4.4, Duration: 90 * time.Second},
		},
		{
			name: "reversed_order",
			a:    calibration.Trial{Frequency: 900, Volume: 3.0, Duration: 20 * time.Second},
			b:    calibration.Trial{Frequency: 200, Volume: 0.7, Duration: 20 * time.Second},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := calibration.Fit(tc.a, tc.b)
			require.NoError(t, err)
			for _, trial := range []calibration.Trial{tc.a, tc.b} {
				f, err := m.ToFrequency(trial.FlowRate())
				require.NoError(t, err)
				assert.InDelta(t, trial.Frequency, f, 1e-9)
			}
		})
	}
}

func TestFitBounds(t *testing.T) {
	m, err := calibration.Fit(
		calibration.Trial{Frequency: 100, Volume: 1, Duration: time.Minute},
		calibration.Trial{Frequency: 200, Volume: 2, Duration: time.Minute},
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, m.Slope, 1e-12)
	assert.InDelta(t, 0, m.Intercept, 1e-12)
	assert.Equal(t, calibration.MinFlowFloor, m.Min)
	assert.InDelta(t, 10, m.Max, 1e-9)
}

func TestFitErrors(t *testing.T) {
	ok := calibration.Trial{Frequency: 100, Volume: 1, Duration: time.Minute}
	for _, tc := range []struct {
		name string
		b    calibration.Trial
	}{
		{name: "same_frequency", b: calibration.Trial{Frequency: 100, Volume: 2, Duration: time.Minute}},
		{name: "zero_volume", b: calibration.Trial{Frequency: 200, Volume: 0, Duration: time.Minute}},
		{name: "negative_volume", b: calibration.Trial{Frequency: 200, Volume: -1, Duration: time.Minute}},
		{name: "zero_duration", b: calibration.Trial{Frequency: 200, Volume: 1}},
		{name: "decreasing", b: calibration.Trial{Frequency: 200, Volume: 0.5, Duration: time.Minute}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := calibration.Fit(ok, tc.b)
			assert.ErrorIs(t, err, calibration.ErrCalibration)
		})
	}
}

func TestToFrequencyRange(t *testing.T) {
	m, err := calibration.Fit(
		calibration.Trial{Frequency: 100, Volume: 1.1, Duration: time.Minute},
		calibration.Trial{Frequency: 300, Volume: 3.1, Duration: time.Minute},
	)
	require.NoError(t, err)

	_, err = m.ToFrequency(m.Max)
	assert.ErrorIs(t, err, calibration.ErrRange)
	_, err = m.ToFrequency(m.Min)
	assert.NoError(t, err)
	_, err = m.ToFrequency(m.Min / 2)
	assert.ErrorIs(t, err, calibration.ErrRange)
	var re *calibration.RangeError
	_, err = m.ToFrequency(m.Max + 1)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, m.Max, re.Max)
}

func TestScaleForDiameter(t *testing.T) {
	m := &calibration.Model{Slope: 0.02, Intercept: 0.1, Min: 0.1, Max: 20.1}
	base := m.DeliveredFlow(250, calibration.ScaleForDiameter(10, 10))
	doubled := m.DeliveredFlow(250, calibration.ScaleForDiameter(10, 20))
	assert.InDelta(t, 4, doubled/base, 1e-12)

	assert.Equal(t, 1.0, calibration.ScaleForDiameter(0, 12))
	assert.Equal(t, 1.0, calibration.ScaleForDiameter(12, 12))
	assert.InDelta(t, 0.25, calibration.ScaleForDiameter(10, 20), 1e-12)
}

func TestSettingRoundTripWithRatio(t *testing.T) {
	m, err := calibration.Fit(
		calibration.Trial{Frequency: 100, Volume: 0.5, Duration: time.Minute},
		calibration.Trial{Frequency: 600, Volume: 3.0, Duration: time.Minute},
	)
	require.NoError(t, err)
	ratio := calibration.ScaleForDiameter(14.5, 20)
	want := 1.2
	s, err := m.Setting(want, ratio)
	require.NoError(t, err)
	assert.Equal(t, calibration.Forward, s.Direction)
	assert.InDelta(t, want, m.DeliveredFlow(s.Frequency, ratio), 1e-9)
}

func TestSettingDirection(t *testing.T) {
	m := &calibration.Model{Slope: 0.01, Intercept: 0, Min: calibration.MinFlowFloor, Max: 10}
	fwd, err := m.Setting(2, 1)
	require.NoError(t, err)
	back, err := m.Setting(-2, 1)
	require.NoError(t, err)
	assert.Equal(t, calibration.Forward, fwd.Direction)
	assert.Equal(t, calibration.Backward, back.Direction)
	assert.Equal(t, fwd.Frequency, back.Frequency)
	assert.InDelta(t, 200, back.Frequency, 1e-9)

	stop, err := m.Setting(0, 1)
	require.NoError(t, err)
	assert.True(t, stop.Stop)

	_, err = m.Setting(-20, 1)
	assert.ErrorIs(t, err, calibration.ErrRange)
}

func TestFitLeastSquares(t *testing.T) {
	trials := []calibration.Trial{
		{Frequency: 100, Volume: 1, Duration: time.Minute},
		{Frequency: 200, Volume: 2, Duration: time.Minute},
		{Frequency: 300, Volume: 3, Duration: time.Minute},
	}
	m, err := calibration.FitLeastSquares(trials...)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, m.Slope, 1e-9)
	assert.True(t, math.Abs(m.Intercept) < 1e-9)

	_, err = calibration.FitLeastSquares(trials[0])
	assert.ErrorIs(t, err, calibration.ErrCalibration)
	_, err = calibration.FitLeastSquares(trials[0], trials[0])
	assert.ErrorIs(t, err, calibration.ErrCalibration)
}
