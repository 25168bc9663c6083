/*
Copyright © 2024 Jonathan Taylor <jonrtaylor12@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package cmd

import (
	"context"
	"fmt"
	"github.com/jt05610/flowchem/calibration"
	"github.com/jt05610/flowchem/comm/serial"
	"github.com/jt05610/flowchem/device"
	"github.com/jt05610/flowchem/profile"
	"github.com/jt05610/flowchem/units"
	"github.com/jt05610/flowchem/wire"
	"github.com/spf13/cobra"
	"io"
	"strings"
	"time"
)

// stopTimeout bounds the stop sent when a timed run is interrupted.
const stopTimeout = 2 * time.Second

var (
	trials        []string
	syringe       profile.SyringeInfo
	trialFreq     float64
	trialDuration time.Duration
	trialPort     string
	testRate      string
	testDuration  time.Duration
	testReverse   bool
	testDiameter  float64
)

// parseTrial reads "<freq Hz>,<volume>,<duration>", for example
// "100 Hz,1.2 mL,60 s".
func parseTrial(s string) (calibration.Trial, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return calibration.Trial{}, fmt.Errorf("trial %q: want frequency,volume,duration", s)
	}
	freq, err := units.ParseAs(parts[0], units.Frequency)
	if err != nil {
		return calibration.Trial{}, fmt.Errorf("trial %q: %w", s, err)
	}
	vol, err := units.ParseAs(parts[1], units.Volume)
	if err != nil {
		return calibration.Trial{}, fmt.Errorf("trial %q: %w", s, err)
	}
	d, err := units.ParseDuration(parts[2])
	if err != nil {
		return calibration.Trial{}, fmt.Errorf("trial %q: %w", s, err)
	}
	hz, _ := freq.In("Hz")
	ml, _ := vol.In("mL")
	return calibration.Trial{Frequency: hz, Volume: ml, Duration: d}, nil
}

// rateSetting converts a requested flow into the step frequency and direction
// the motor's stored calibration gives for it. diameter is the inner diameter
// in mm of the syringe now fitted, 0 if it is the calibration syringe.
func rateSetting(p *profile.MotorProfile, rate string, diameter float64, reverse bool) (calibration.Setting, error) {
	q, err := units.ParseAs(rate, units.FlowRate)
	if err != nil {
		return calibration.Setting{}, err
	}
	flow, err := q.In("mL/min")
	if err != nil {
		return calibration.Setting{}, err
	}
	model, err := p.Model()
	if err != nil {
		return calibration.Setting{}, err
	}
	if reverse {
		flow = -flow
	}
	setting, err := model.Setting(flow, calibration.ScaleForDiameter(p.CalibratedDiameter(), diameter))
	if err != nil {
		return calibration.Setting{}, err
	}
	if setting.Stop {
		return calibration.Setting{}, fmt.Errorf("%s is too slow to run", rate)
	}
	return setting, nil
}

// motorPort resolves the MCU pins of a motor and the port its MCU is reached
// on, preferring port over the last known one.
func motorPort(m *profile.Manager, motorID, port string) (*profile.MCUProfile, wire.Pins, string, error) {
	mcu, pins, err := m.FindMCUForMotor(motorID)
	if err != nil {
		return nil, wire.Pins{}, "", err
	}
	if port == "" {
		port = mcu.LastConnectedPort
	}
	if port == "" {
		return nil, wire.Pins{}, "", fmt.Errorf("mcu %s has no known port, use --port", mcu.Name)
	}
	return mcu, wire.Pins{Step: pins.Step, Dir: pins.Dir}, port, nil
}

// runTimed sends a timed command on conn and waits for it to finish. When ctx
// ends first the motor is sent a stop.
func runTimed(ctx context.Context, out io.Writer, pool *serial.Pool, conn *serial.Conn, pins wire.Pins, freq float64, dir calibration.Direction, d time.Duration) error {
	if err := pool.Send(ctx, conn, wire.TimedCommand(pins, freq, string(dir), d)); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "running at %.4g Hz %s for %s\n", freq, dir, d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := pool.Send(stopCtx, conn, wire.StopCommand(pins)); err != nil {
			return fmt.Errorf("emergency stop: %w", err)
		}
		_, _ = fmt.Fprintln(out, "stopped")
		return ctx.Err()
	case <-t.C:
	}
	return nil
}

// runOnMotor acquires the motor's port and hands the connection to run.
func runOnMotor(ctx context.Context, motorID, port string, run func(*serial.Pool, *serial.Conn, wire.Pins) error) error {
	m, closeProfiles, err := openProfiles(ctx)
	if err != nil {
		return err
	}
	defer closeProfiles()
	mcu, pins, port, err := motorPort(m, motorID, port)
	if err != nil {
		return err
	}
	pool := serial.NewPool(logger)
	defer func() {
		_ = pool.Close()
	}()
	conn, err := pool.Acquire(ctx, port, device.StepperBaud)
	if err != nil {
		return err
	}
	defer func() {
		_ = pool.Release(conn)
	}()
	if err := m.SetLastPort(ctx, mcu.UniqueID, port); err != nil {
		return err
	}
	return run(pool, conn, pins)
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate stepper driven syringe pumps",
}

var fitCmd = &cobra.Command{
	Use:   "fit <motor>",
	Short: "Fit a motor's flow model from timed trials",
	Long: `Fit a motor's flow model from timed trials at different step frequencies.
Each trial is given as frequency,volume,duration. Two trials give the line
through both points; three or more are fitted by least squares:

  flowchem calibrate fit m1 --trial "100 Hz,1.2 mL,60 s" --trial "400 Hz,4.9 mL,60 s"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(trials) < 2 {
			return fmt.Errorf("need at least two trials, got %d", len(trials))
		}
		parsed := make([]calibration.Trial, len(trials))
		for i, s := range trials {
			tr, err := parseTrial(s)
			if err != nil {
				return err
			}
			parsed[i] = tr
		}
		m, closeProfiles, err := openProfiles(cmd.Context())
		if err != nil {
			return err
		}
		defer closeProfiles()
		model, err := m.Calibrate(cmd.Context(), args[0], syringe, parsed...)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(),
			"flow = %.6g * freq + %.6g mL/min, valid for [%.4g, %.4g) mL/min\n",
			model.Slope, model.Intercept, model.Min, model.Max)
		return nil
	},
}

var trialCmd = &cobra.Command{
	Use:   "trial <motor>",
	Short: "Run a motor at a fixed frequency for a fixed time",
	Long: `Run a motor at a fixed frequency for a fixed time so the dispensed volume can
be weighed. The MCU the motor is associated with is reached on its last known
port unless --port is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnMotor(cmd.Context(), args[0], trialPort, func(pool *serial.Pool, conn *serial.Conn, pins wire.Pins) error {
			err := runTimed(cmd.Context(), cmd.OutOrStdout(), pool, conn, pins, trialFreq, calibration.Forward, trialDuration)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "done, measure the dispensed volume")
			return nil
		})
	},
}

var testCmd = &cobra.Command{
	Use:   "test <motor>",
	Short: "Run a calibrated motor at a flow rate for a fixed time",
	Long: `Run a calibrated motor at a flow rate for a fixed time to check its
calibration. Interrupting the run stops the motor:

  flowchem calibrate test m1 --rate 2mL/min --for 30s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeProfiles, err := openProfiles(cmd.Context())
		if err != nil {
			return err
		}
		motor, err := m.Motor(args[0])
		closeProfiles()
		if err != nil {
			return err
		}
		setting, err := rateSetting(motor, testRate, testDiameter, testReverse)
		if err != nil {
			return err
		}
		return runOnMotor(cmd.Context(), args[0], trialPort, func(pool *serial.Pool, conn *serial.Conn, pins wire.Pins) error {
			return runTimed(cmd.Context(), cmd.OutOrStdout(), pool, conn, pins, setting.Frequency, setting.Direction, testDuration)
		})
	},
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.AddCommand(fitCmd, trialCmd, testCmd)
	calibrateCmd.PersistentFlags().StringVar(&trialPort, "port", "", "serial port of the MCU")
	fitCmd.Flags().StringArrayVar(&trials, "trial", nil, "frequency,volume,duration of one trial")
	fitCmd.Flags().StringVar(&syringe.Brand, "brand", "", "syringe brand")
	fitCmd.Flags().StringVar(&syringe.Model, "model", "", "syringe model")
	fitCmd.Flags().Float64Var(&syringe.VolumeML, "syringe-volume", 0, "syringe volume in mL")
	fitCmd.Flags().Float64Var(&syringe.InnerDiameterMM, "diameter", 0, "syringe inner diameter in mm")
	trialCmd.Flags().Float64Var(&trialFreq, "freq", 100, "step frequency in Hz")
	trialCmd.Flags().DurationVar(&trialDuration, "for", time.Minute, "trial duration")
	testCmd.Flags().StringVar(&testRate, "rate", "1 mL/min", "flow rate")
	testCmd.Flags().DurationVar(&testDuration, "for", 30*time.Second, "run duration")
	testCmd.Flags().BoolVar(&testReverse, "reverse", false, "aspirate instead of dispense")
	testCmd.Flags().Float64Var(&testDiameter, "diameter", 0, "inner diameter in mm of the fitted syringe, if not the calibration one")
}
