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
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"text/tabwriter"
)

var validateCmd = &cobra.Command{
	Use:   "validate <document>",
	Short: "Check a run document without touching hardware",
	Long: `Check a run document without touching hardware. The apparatus is built, the
protocol is checked for overlapping windows and every pump that moves must reach
a collection vessel.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, s, err := load(args[0])
		if err != nil {
			_, _ = color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "invalid: %v\n", err)
			return err
		}
		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "FROM\tTO\tLENGTH\tID\tOD\tMATERIAL\tVOLUME (mL)")
		for _, row := range run.Apparatus.Summary() {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.4f\n",
				row.From, row.To, row.Length, row.ID, row.OD, row.Material, row.Volume)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "total volume %.4f mL\n\n", run.Apparatus.TotalVolume())
		for _, tl := range s.Timelines() {
			_, _ = fmt.Fprintf(out, "%s\n", tl.Component.Name)
			for _, w := range tl.Windows {
				_, _ = fmt.Fprintf(out, "  %8s - %-8s %s\n", w.Start, w.End, w.Value)
			}
		}
		_, _ = color.New(color.FgGreen).Fprintf(out, "ok: %s runs for %s\n", s.Name, s.Duration())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
