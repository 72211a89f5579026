/*
 *	Copyright 2025 The GoMLX Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/datasets/mnist"
	"github.com/gomlx/made/fit"
	"github.com/gomlx/made/metrics"
	"github.com/gomlx/made/training"
	"github.com/google/subcommands"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

// run holds the components of a training run, built from the configuration.
type run struct {
	plots    *metrics.PlotWriter
	recorder *metrics.Recorder
	loop     *fit.Loop
}

// newRun creates the data module, the metrics recorder with its writers, the training module
// and the loop.
func newRun(s *settings) (*run, error) {
	file, err := s.load(*flagConfig)
	if err != nil {
		return nil, err
	}
	data, err := datamodule.New(file.Data)
	if err != nil {
		return nil, err
	}
	r := &run{}
	level := 1
	if file.Metrics.LogLevel != nil {
		level = *file.Metrics.LogLevel
	}
	r.recorder = metrics.NewRecorder(file.Metrics.Run, metrics.KlogWriter{Level: klog.Level(level)})
	if file.Metrics.SQLite != "" {
		writer, err := metrics.NewSQLiteWriter(file.Metrics.SQLite)
		if err != nil {
			return nil, err
		}
		r.recorder.AddWriter(writer)
	}
	if file.Metrics.PlotDir != "" {
		r.plots = metrics.NewPlotWriter(file.Metrics.PlotDir)
		r.recorder.AddWriter(r.plots)
	}
	module, err := training.New(backends.New(), s.ctx, file.Model, r.recorder)
	if err != nil {
		_ = r.recorder.Close()
		return nil, err
	}
	r.loop = fit.NewLoop(data, module, r.recorder, file.Fit)
	return r, nil
}

// finish writes the report and closes the metrics writers, which saves the plots.
func (r *run) finish() error {
	if err := fit.Report(os.Stdout, r.loop); err != nil {
		return err
	}
	if err := r.recorder.Close(); err != nil {
		return err
	}
	if r.plots != nil {
		fmt.Printf("Plots saved to %q\n", r.plots.Dir)
	}
	return nil
}

// exitStatus logs err and converts it to an exit status.
func exitStatus(err error) subcommands.ExitStatus {
	if err != nil {
		klog.Errorf("%+v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type fitCommand struct {
	settings   *settings
	noProgress bool
	test       bool
	earlyStop  string
	patience   int
}

func (*fitCommand) Name() string     { return "fit" }
func (*fitCommand) Synopsis() string { return "Train the model, validating at the end of epochs." }
func (*fitCommand) Usage() string {
	return `fit [-test] [-no_progress] [-early_stop=<metric> [-patience=<epochs>]]:
  Train the model configured by -config and -set.
`
}

func (c *fitCommand) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.noProgress, "no_progress", false, "Don't display the progress bar.")
	f.BoolVar(&c.test, "test", false, "Evaluate the test split after training.")
	f.StringVar(&c.earlyStop, "early_stop", "", `Stop training when this metric (e.g. "loss/val") stops improving.`)
	f.IntVar(&c.patience, "patience", 3, "Number of epochs without improvement tolerated by -early_stop.")
}

func (c *fitCommand) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	r, err := newRun(c.settings)
	if err != nil {
		return exitStatus(err)
	}
	if !c.noProgress {
		fit.AttachProgressBar(r.loop)
	}
	if c.earlyStop != "" {
		r.loop.OnEpochEnd("early_stop", 0, fit.EarlyStopping(c.earlyStop, c.patience))
	}
	if err := r.loop.Fit(); err != nil {
		_ = r.recorder.Close()
		return exitStatus(err)
	}
	if c.test {
		if _, err := r.loop.Test(); err != nil {
			_ = r.recorder.Close()
			return exitStatus(err)
		}
	}
	return exitStatus(r.finish())
}

type testCommand struct {
	settings *settings
}

func (*testCommand) Name() string { return "test" }
func (*testCommand) Synopsis() string {
	return "Evaluate the freshly initialized model on the test split."
}
func (*testCommand) Usage() string {
	return `test:
  Evaluate the model configured by -config and -set on the test split, without training.
  It gives the baseline metrics of the initialization.
`
}
func (*testCommand) SetFlags(*flag.FlagSet) {}

func (c *testCommand) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	r, err := newRun(c.settings)
	if err != nil {
		return exitStatus(err)
	}
	if _, err := r.loop.Test(); err != nil {
		_ = r.recorder.Close()
		return exitStatus(err)
	}
	return exitStatus(r.finish())
}

type downloadCommand struct {
	dataDir string
}

func (*downloadCommand) Name() string     { return "download" }
func (*downloadCommand) Synopsis() string { return "Download the MNIST files." }
func (*downloadCommand) Usage() string {
	return `download [-data=<dir>]:
  Download the MNIST files, if they are not there yet.
`
}

func (c *downloadCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dataDir, "data", "~/work/mnist", "Directory where to store the MNIST files.")
}

func (c *downloadCommand) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	must.M(mnist.Download(c.dataDir))
	fmt.Printf("MNIST files in %q\n", c.dataDir)
	return subcommands.ExitSuccess
}
