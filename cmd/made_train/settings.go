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
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/made/config"
	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/registry"
	"github.com/gomlx/made/training"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Parameters that can be set with -set. They override the values in the configuration file.
const (
	paramEpochs     = "epochs"
	paramMaxSteps   = "max_steps"
	paramValEvery   = "val_every"
	paramBatchSize  = "batch_size"
	paramSeed       = "seed"
	paramLikelihood = "likelihood"
	paramAdvEps     = "adv_eps"
	paramRun        = "run"
)

// settings holds the context with the default hyperparameters and the -set flag.
type settings struct {
	ctx  *context.Context
	flag *string
}

// newSettings creates the context with the default value of every parameter accepted by -set,
// and registers the flag.
func newSettings() *settings {
	ctx := context.New()
	defaults := map[string]any{
		optimizers.ParamOptimizer:    training.DefaultOptimizer,
		optimizers.ParamLearningRate: training.DefaultLearningRate,
		paramEpochs:                  1,
		paramMaxSteps:                0,
		paramValEvery:                1,
		paramBatchSize:               datamodule.DefaultBatchSize,
		paramSeed:                    0,
		paramLikelihood:              training.Bernoulli.String(),
		paramAdvEps:                  0.0,
		paramRun:                     "",
	}
	for key, value := range defaults {
		ctx.SetParam(key, value)
	}
	return &settings{ctx: ctx, flag: commandline.CreateContextSettingsFlag(ctx, "")}
}

// load reads the configuration file (if any) and applies the parameters set with -set.
func (s *settings) load(path string) (*config.File, error) {
	file := &config.File{}
	if path != "" {
		var err error
		if file, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	paramsSet, err := commandline.ParseContextSettings(s.ctx, *s.flag)
	if err != nil {
		return nil, errors.WithMessage(err, "parsing -set")
	}
	for _, param := range paramsSet {
		s.apply(file, param)
	}
	if len(paramsSet) > 0 {
		klog.Infof("Parameters set:\n%s", commandline.SprintModifiedContextSettings(s.ctx, paramsSet))
	}
	return file, nil
}

// apply copies the value of param from the context into the configuration.
func (s *settings) apply(file *config.File, param string) {
	ctx := s.ctx
	switch param {
	case optimizers.ParamOptimizer:
		file.Model.Optimizer = context.GetParamOr(ctx, param, training.DefaultOptimizer)
	case optimizers.ParamLearningRate:
		file.Model.LearningRate = context.GetParamOr(ctx, param, training.DefaultLearningRate)
	case paramEpochs:
		file.Fit.Epochs = context.GetParamOr(ctx, param, 1)
	case paramMaxSteps:
		file.Fit.MaxSteps = context.GetParamOr(ctx, param, 0)
	case paramValEvery:
		file.Fit.ValEvery = context.GetParamOr(ctx, param, 1)
	case paramBatchSize:
		batchSize := context.GetParamOr(ctx, param, datamodule.DefaultBatchSize)
		file.Data.BatchSize = &batchSize
	case paramSeed:
		file.Data.Seed = int64(context.GetParamOr(ctx, param, 0))
	case paramLikelihood:
		file.Model.CriterionArgs = withArg(file.Model.CriterionArgs, "likelihood", context.GetParamOr(ctx, param, ""))
	case paramAdvEps:
		file.Model.AttackArgs = withArg(file.Model.AttackArgs, "eps", context.GetParamOr(ctx, param, 0.0))
	case paramRun:
		file.Metrics.Run = context.GetParamOr(ctx, param, "")
	}
}

func withArg(args registry.Args, key string, value any) registry.Args {
	args = args.Clone()
	if args == nil {
		args = registry.Args{}
	}
	args[key] = value
	return args
}
