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
	"github.com/fatih/color"
	"github.com/jt05610/flowchem/apparatus"
	"github.com/jt05610/flowchem/comm/serial"
	"github.com/jt05610/flowchem/device"
	"github.com/jt05610/flowchem/event"
	"github.com/jt05610/flowchem/flowfile"
	"github.com/jt05610/flowchem/monitor"
	"github.com/jt05610/flowchem/protocol"
	"github.com/jt05610/flowchem/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	metricsAddr string
	noColor     bool
)

// load reads and builds a run document.
func load(path string) (*flowfile.Run, *protocol.Schedule, error) {
	doc, err := flowfile.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	run, err := doc.Build(apparatus.NewNameRegistry(), logger)
	if err != nil {
		return nil, nil, err
	}
	s, err := run.Protocol.Build()
	if err != nil {
		return nil, nil, err
	}
	return run, s, nil
}

var runCmd = &cobra.Command{
	Use:   "run <document>",
	Short: "Execute the protocol in a run document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, s, err := load(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		profiles, closeProfiles, err := openProfiles(ctx)
		if err != nil {
			return err
		}
		defer closeProfiles()

		pool := serial.NewPool(logger)
		defer func() {
			if err := pool.Close(); err != nil {
				logger.Warn("closing ports", zap.Error(err))
			}
		}()

		sinks := event.Fanout{event.NewConsole(cmd.OutOrStdout(), noColor), &event.LogSink{Logger: logger}}
		if environ.AMQPURI != "" {
			pub, err := event.Dial(environ.AMQPURI, environ.AMQPExchange, logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = pub.Close()
			}()
			sinks = append(sinks, pub)
		}

		drivers, err := run.Drivers(device.Config{
			Transport: pool,
			Profiles:  profiles,
			Responses: pool.Subscribe,
			Sink:      sinks,
			Logger:    logger,
			Settle:    environ.Settle,
		})
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		runner := scheduler.NewRunner(drivers,
			scheduler.WithLogger(logger),
			scheduler.WithSink(sinks),
			scheduler.WithMetrics(scheduler.NewMetrics(reg)),
		)

		addr := metricsAddr
		if addr == "" {
			addr = environ.MetricsAddr
		}
		if addr != "" {
			mctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			router := monitor.NewRouter(reg, func() monitor.Status {
				st := monitor.Status{
					Name:    s.Name,
					State:   runner.State().String(),
					Elapsed: runner.Elapsed().Seconds(),
				}
				if err := runner.Err(); err != nil {
					st.Error = err.Error()
				}
				return st
			})
			go func() {
				if err := monitor.Serve(mctx, addr, router, logger); err != nil {
					logger.Error("monitor failed", zap.Error(err))
				}
			}()
		}

		bold := color.New(color.Bold)
		if noColor {
			bold.DisableColor()
		}
		_, _ = bold.Fprintf(cmd.OutOrStdout(), "running %s (%s, %d components)\n",
			s.Name, s.Duration(), len(s.Timelines()))
		start := time.Now()
		if err := runner.Run(ctx, s); err != nil {
			_, _ = color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "%s after %s: %v\n",
				runner.State(), time.Since(start).Round(time.Millisecond), err)
			return err
		}
		_, _ = bold.Fprintf(cmd.OutOrStdout(), "%s in %s\n", runner.State(), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve /metrics and /status on this address")
	runCmd.Flags().BoolVar(&noColor, "no-color", false, "plain console output")
}
