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
	"github.com/jt05610/flowchem/couch"
	"github.com/jt05610/flowchem/env"
	"github.com/jt05610/flowchem/profile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"os"
)

var (
	verbose  bool
	envFiles []string
	environ  *env.Environment
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "flowchem",
	Short: "Run flow chemistry protocols on serial hardware",
	Long: `flowchem drives pumps, valves and sensors from a run document describing the
apparatus and a timed protocol.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = env.NewLogger(verbose)
		if err != nil {
			return err
		}
		environ, err = env.LoadEnv(logger, envFiles...)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, ".env files to load")
}

// openProfiles uses CouchDB when configured and the profile directory
// otherwise. The returned func releases the store.
func openProfiles(ctx context.Context) (*profile.Manager, func(), error) {
	if environ.CouchURI != "" {
		store, err := couch.Open(environ.CouchURI, couch.DefaultDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open profile database: %w", err)
		}
		m, err := profile.Open(ctx, store, logger)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return m, func() { _ = store.Close() }, nil
	}
	store, err := profile.NewFileStore(environ.ProfileDir)
	if err != nil {
		return nil, nil, err
	}
	m, err := profile.Open(ctx, store, logger)
	if err != nil {
		return nil, nil, err
	}
	return m, func() {}, nil
}
