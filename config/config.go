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

// Package config defines the YAML file that configures a training run: the data, the model
// (training module), the fit loop and where metrics are written.
//
// Example:
//
//	data:
//	  dataset: binarized_mnist
//	  dataset_args: {data_dir: ~/work/mnist, download: true}
//	  val_size: 10000
//	  batch_size: 100
//	model:
//	  model_class: made.MADE
//	  model_args: {hidden: [500], natural_ordering: true}
//	  attack_args: {eps: 0.1, steps: 5}
//	fit:
//	  epochs: 10
//	metrics:
//	  sqlite: ~/work/made/metrics.db
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/fit"
	"github.com/gomlx/made/training"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Metrics configures where the metrics of a run are written. Empty values disable a writer.
type Metrics struct {
	// Run id stored with the metrics. A random one is used if empty.
	Run string `yaml:"run"`

	// SQLite database file.
	SQLite string `yaml:"sqlite"`

	// PlotDir is the directory where PNG plots are saved at the end of the run.
	PlotDir string `yaml:"plot_dir"`

	// LogLevel is the klog verbosity at which metrics are logged. Default 1.
	LogLevel *int `yaml:"log_level"`
}

// File is the configuration of a training run.
type File struct {
	Data    datamodule.Config `yaml:"data"`
	Model   training.Config   `yaml:"model"`
	Fit     fit.Config        `yaml:"fit"`
	Metrics Metrics           `yaml:"metrics"`
}

// Parse decodes a configuration from YAML. Unknown fields are errors.
func Parse(content []byte) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "parsing configuration")
	}
	f.Metrics.SQLite = data.ReplaceTildeInDir(f.Metrics.SQLite)
	f.Metrics.PlotDir = data.ReplaceTildeInDir(f.Metrics.PlotDir)
	return &f, nil
}

// Load reads and parses the configuration file in path. A "~" prefix is replaced by the
// user's home directory.
func Load(path string) (*File, error) {
	path = data.ReplaceTildeInDir(path)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration %q", path)
	}
	f, err := Parse(content)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration %q", path)
	}
	return f, nil
}
