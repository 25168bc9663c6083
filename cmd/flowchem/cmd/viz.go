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
	"bytes"
	"fmt"
	gv "github.com/goccy/go-graphviz"
	"github.com/jt05610/flowchem/apparatus"
	"github.com/jt05610/flowchem/flowfile"
	"github.com/jt05610/flowchem/graphviz"
	"github.com/spf13/cobra"
	"os"
	"path/filepath"
)

var outputFile string

var vizCmd = &cobra.Command{
	Use:   "viz <document>",
	Short: "Draw the apparatus of a run document",
	Long: `Draw the apparatus of a run document. The output format follows the extension
of the output file: .dot, .svg, .png or .jpg.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := flowfile.LoadFile(args[0])
		if err != nil {
			return err
		}
		run, err := doc.Build(apparatus.NewNameRegistry(), logger)
		if err != nil {
			return err
		}
		out := outputFile
		if out == "" {
			out = doc.Name + ".svg"
		}
		format, err := graphviz.FormatFor(filepath.Ext(out))
		if err != nil {
			return err
		}
		w := graphviz.New(&graphviz.Config{
			Name:    doc.Name,
			Font:    graphviz.Helvetica,
			RankDir: graphviz.LeftToRight,
			Format:  format,
		})
		var buf bytes.Buffer
		if err := w.Flush(&buf, run.Apparatus); err != nil {
			return err
		}
		if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
			return err
		}
		if format != gv.XDOT {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		}
		topo, err := graphviz.Read(&buf)
		if err != nil {
			return fmt.Errorf("read back %s: %w", out, err)
		}
		if len(topo.Nodes) != len(run.Apparatus.Components()) {
			return fmt.Errorf("%s: wrote %d of %d components", out, len(topo.Nodes), len(run.Apparatus.Components()))
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d components, %d connections\n",
			out, len(topo.Nodes), len(topo.Edges))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(vizCmd)
	vizCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file")
}
