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

// made_train trains MADE density estimators on the datasets of this module.
//
// The run is configured by a YAML file (see package config) and can be adjusted from the
// command line with -set, e.g.:
//
//	made_train -config=mnist.yaml -set="epochs=5;learning_rate=0.0005" fit -test
//	made_train download -data=~/work/mnist
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"

	_ "github.com/gomlx/made/datasets/mnist"
	_ "github.com/gomlx/made/datasets/npz"
	_ "github.com/gomlx/made/datasets/synthetic"
	_ "github.com/gomlx/made/datasets/tabular"
	_ "github.com/gomlx/made/models/made"
)

var flagConfig = flag.String("config", "", "YAML configuration file of the run. If empty, defaults are used.")

func main() {
	settings := newSettings()
	klog.InitFlags(nil)
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&fitCommand{settings: settings}, "")
	subcommands.Register(&testCommand{settings: settings}, "")
	subcommands.Register(&downloadCommand{}, "")
	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
