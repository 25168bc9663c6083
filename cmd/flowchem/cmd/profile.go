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
	"fmt"
	"github.com/jt05610/flowchem/profile"
	"github.com/spf13/cobra"
	"os"
	"text/tabwriter"
)

var (
	mcuPort  string
	stepPin  int
	dirPin   int
	exportTo string
)

func kindArg(s string) (profile.Kind, error) {
	switch profile.Kind(s) {
	case profile.MCUs, profile.Motors:
		return profile.Kind(s), nil
	}
	return "", fmt.Errorf("%q: %w, want mcus or motors", s, profile.ErrUnknownKind)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage MCU and motor profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List MCUs and motors",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeProfiles, err := openProfiles(cmd.Context())
		if err != nil {
			return err
		}
		defer closeProfiles()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "MCU\tNAME\tPORT\tMOTORS")
		for _, mcu := range m.MCUs() {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", mcu.UniqueID, mcu.Name, mcu.LastConnectedPort, len(mcu.Motors))
		}
		_, _ = fmt.Fprintln(tw, "\nMOTOR\tNAME\tCALIBRATED\tRANGE (mL/min)")
		for _, motor := range m.Motors() {
			rng := "-"
			if motor.Calibrated {
				rng = fmt.Sprintf("%.4g - %.4g", motor.MinUPS, motor.MaxUPS)
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", motor.UniqueID, motor.Name, motor.Calibrated, rng)
		}
		return tw.Flush()
	},
}

var addMCUCmd = &cobra.Command{
	Use:   "add-mcu <name>",
	Short: "Register a microcontroller",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeProfiles, err := openProfiles(cmd.Context())
		if err != nil {
			return err
		}
		defer closeProfiles()
		p, err := m.AddMCU(cmd.Context(), &profile.MCUProfile{Name: args[0], LastConnectedPort: mcuPort})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), p.UniqueID)
		return nil
	},
}

var addMotorCmd = &cobra.Command{
	Use:   "add-motor <name>",
	Short: "Register an uncalibrated motor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeProfiles, err := openProfiles(cmd.Context())
		if err != nil {
			return err
		}
		defer closeProfiles()
		p, err := m.AddMotor(cmd.Context(), &profile.MotorProfile{Name: args[0]})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), p.UniqueID)
		return nil
	},
}

var associateCmd = &cobra.Command{
	Use:   "associate <mcu> <motor>",
	Short: "Wire a motor to an MCU's step and dir pins",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeProfiles, err := openProfiles(cmd.Context())
		if err != nil {
			return err
		}
		defer closeProfiles()
		return m.Associate(cmd.Context(), args[0], args[1], stepPin, dirPin)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <mcus|motors> <id>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		m, closeProfiles, err := openProfiles(cmd.Context())
		if err != nil {
			return err
		}
		defer closeProfiles()
		if kind == profile.MCUs {
			return m.DeleteMCU(cmd.Context(), args[1])
		}
		return m.DeleteMotor(cmd.Context(), args[1])
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <mcus|motors>",
	Short: "Write a profile list as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		m, closeProfiles, err := openProfiles(cmd.Context())
		if err != nil {
			return err
		}
		defer closeProfiles()
		if exportTo == "" {
			return m.Export(cmd.OutOrStdout(), kind)
		}
		df, err := os.Create(exportTo)
		if err != nil {
			return err
		}
		defer func() {
			_ = df.Close()
		}()
		return m.Export(df, kind)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <mcus|motors> <file>",
	Short: "Replace a profile list with the JSON in file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		df, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer func() {
			_ = df.Close()
		}()
		m, closeProfiles, err := openProfiles(cmd.Context())
		if err != nil {
			return err
		}
		defer closeProfiles()
		return m.Import(cmd.Context(), df, kind)
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileListCmd, addMCUCmd, addMotorCmd, associateCmd, deleteCmd, exportCmd, importCmd)
	addMCUCmd.Flags().StringVar(&mcuPort, "port", "", "serial port the MCU is on")
	associateCmd.Flags().IntVar(&stepPin, "step", 0, "step pin")
	associateCmd.Flags().IntVar(&dirPin, "dir", 0, "dir pin")
	_ = associateCmd.MarkFlagRequired("step")
	_ = associateCmd.MarkFlagRequired("dir")
	exportCmd.Flags().StringVarP(&exportTo, "output", "o", "", "output file")
}
