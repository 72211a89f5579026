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

// Package training implements the training step of density estimators: the negative
// log-likelihood criterion, an optional adversarial attacker (PGD) applied to the training
// inputs, the optimizer update, and the logging of the results per split.
package training

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/metrics"
	"github.com/gomlx/made/models"
	"github.com/gomlx/made/models/made"
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Keys of the values computed when the inputs are attacked.
const (
	KeyAdvInitLoss  = "adv/init_loss"
	KeyAdvFinalLoss = "adv/final_loss"
	KeyAdvLossDiff  = "adv/loss_diff"
)

// Defaults of Config.
const (
	DefaultModelClass   = made.Name
	DefaultOptimizer    = "adam"
	DefaultLearningRate = 1e-3
)

// Config of the training Module.
type Config struct {
	// ModelClass is the name of the model in the models registry. Default "made.MADE".
	ModelClass string        `yaml:"model_class"`
	ModelArgs  registry.Args `yaml:"model_args"`

	// CriterionArgs configure the Criterion, see NewCriterion.
	CriterionArgs registry.Args `yaml:"criterion_args"`

	// AttackArgs configure the PGDAttacker, see NewPGDAttacker. If nil, inputs are not attacked.
	AttackArgs registry.Args `yaml:"attack_args"`

	// Optimizer is one of optimizers.KnownOptimizers. Default "adam".
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`
}

func (c Config) withDefaults() Config {
	if c.ModelClass == "" {
		c.ModelClass = DefaultModelClass
	}
	if c.Optimizer == "" {
		c.Optimizer = DefaultOptimizer
	}
	if c.LearningRate == 0 {
		c.LearningRate = DefaultLearningRate
	}
	return c
}

// Module trains a model with a Criterion, optionally attacking the training inputs first.
//
// Each split has its own computation graph: only the one for the train split updates the
// variables. Graphs are compiled on first use.
type Module struct {
	backend   backends.Backend
	ctx       *context.Context
	config    Config
	model     models.Model
	criterion *Criterion
	attacker  *PGDAttacker
	optimizer optimizers.Interface
	logger    metrics.Logger

	mu       sync.Mutex
	execs    map[datamodule.Split]*context.Exec
	forwards *context.Exec
}

// New creates the training module: it creates the model, the criterion, the attacker (if
// configured) and the optimizer. Variables are created in ctx, whose hyperparameters are
// updated with the configuration. logger may be nil.
func New(backend backends.Backend, ctx *context.Context, config Config, logger metrics.Logger) (*Module, error) {
	config = config.withDefaults()
	m := &Module{
		backend: backend,
		ctx:     ctx.Checked(false),
		config:  config,
		logger:  logger,
		execs:   make(map[datamodule.Split]*context.Exec),
	}
	var err error
	if m.model, err = models.New(config.ModelClass, config.ModelArgs); err != nil {
		return nil, err
	}
	if m.criterion, err = NewCriterion(config.CriterionArgs); err != nil {
		return nil, err
	}
	if m.model.NumParams() != m.criterion.Likelihood.NumParams() {
		return nil, errors.Errorf("model %q returns %d parameters per feature, %s likelihood requires %d",
			config.ModelClass, m.model.NumParams(), m.criterion.Likelihood, m.criterion.Likelihood.NumParams())
	}
	if config.AttackArgs != nil {
		if m.attacker, err = NewPGDAttacker(config.AttackArgs); err != nil {
			return nil, err
		}
	}
	if _, found := optimizers.KnownOptimizers[config.Optimizer]; !found {
		return nil, errors.Errorf("unknown optimizer %q, valid values are %v",
			config.Optimizer, slices.Sorted(maps.Keys(optimizers.KnownOptimizers)))
	}
	m.saveHyperparameters()
	m.optimizer = optimizers.ByName(m.ctx, config.Optimizer)
	klog.V(1).Infof("training module: model=%v, criterion=%s likelihood, attacker=%v, optimizer=%s(lr=%g)",
		m.model, m.criterion.Likelihood, m.attacker, config.Optimizer, config.LearningRate)
	return m, nil
}

// saveHyperparameters stores the configuration in the context, where GoMLX components look
// for them.
func (m *Module) saveHyperparameters() {
	m.ctx.SetParam(optimizers.ParamOptimizer, m.config.Optimizer)
	m.ctx.SetParam(optimizers.ParamLearningRate, m.config.LearningRate)
	m.ctx.SetParam("model_class", m.config.ModelClass)
	m.ctx.SetParam("likelihood", m.criterion.Likelihood.String())
}

// Hyperparameters returns the configuration of the module, including the arguments given to
// the model, the criterion and the attacker.
func (m *Module) Hyperparameters() map[string]any {
	return map[string]any{
		"model_class":    m.config.ModelClass,
		"model_args":     m.config.ModelArgs.Clone(),
		"criterion_args": m.config.CriterionArgs.Clone(),
		"attack_args":    m.config.AttackArgs.Clone(),
		"optimizer":      m.config.Optimizer,
		"learning_rate":  m.config.LearningRate,
	}
}

// Context returns the context holding the variables of the model.
func (m *Module) Context() *context.Context { return m.ctx }

// Model returns the model being trained.
func (m *Module) Model() models.Model { return m.model }

// Criterion returns the criterion used as loss.
func (m *Module) Criterion() *Criterion { return m.criterion }

// Attacker returns the attacker, or nil if inputs are not attacked.
func (m *Module) Attacker() *PGDAttacker { return m.attacker }

// IsDensityEstimator returns whether the model is a MADE, whose inputs are flattened.
func (m *Module) IsDensityEstimator() bool {
	_, ok := m.model.(*made.MADE)
	return ok
}

// Keys returns the names of the results computed for the split, in the order they are logged.
func (m *Module) Keys(split datamodule.Split) []string {
	keys := []string{KeyLoss, KeyBPD}
	if split == datamodule.Train && m.attacker != nil {
		keys = append(keys, KeyAdvInitLoss, KeyAdvFinalLoss, KeyAdvLossDiff)
	}
	return keys
}

// InputOf returns the input tensor of a batch: batch itself if it is a tensor, or its first
// element if it is a slice (e.g. the inputs yielded by a datamodule.Loader).
func InputOf(batch any) (*tensors.Tensor, error) {
	switch b := batch.(type) {
	case *tensors.Tensor:
		if b == nil {
			return nil, errors.New("nil batch")
		}
		return b, nil
	case []*tensors.Tensor:
		if len(b) == 0 {
			return nil, errors.New("empty batch")
		}
		return InputOf(b[0])
	case []any:
		if len(b) == 0 {
			return nil, errors.New("empty batch")
		}
		return InputOf(b[0])
	default:
		return nil, errors.Errorf("batch of type %T is not supported", batch)
	}
}

// prepareInput flattens the non-batch axes for MADE models.
func (m *Module) prepareInput(x *Node) *Node {
	if !m.IsDensityEstimator() || x.Rank() == 2 {
		return x
	}
	if x.Rank() < 2 {
		Panicf("input must have a batch axis and at least one feature axis, got %s", x.Shape())
	}
	return Reshape(x, x.Shape().Dimensions[0], -1)
}

// stepGraph builds the graph of one step for split.
func (m *Module) stepGraph(split datamodule.Split) func(ctx *context.Context, x *Node) []*Node {
	return func(ctx *context.Context, x *Node) []*Node {
		g := x.Graph()
		isTrain := split == datamodule.Train
		ctx.SetTraining(g, isTrain)
		x = m.prepareInput(x)
		if !isTrain {
			x = StopGradient(x)
		}
		var results map[string]*Node
		if isTrain && m.attacker != nil {
			lossFn := func(x *Node) *Node {
				return ReduceAllMean(m.criterion.NLL(ctx, m.model, x))
			}
			adv, initLoss, finalLoss := m.attacker.Attack(ctx, lossFn, x)
			results = m.criterion.Compute(ctx, m.model, adv)
			results[KeyAdvInitLoss] = initLoss
			results[KeyAdvFinalLoss] = finalLoss
			results[KeyAdvLossDiff] = Sub(finalLoss, initLoss)
		} else {
			results = m.criterion.Compute(ctx, m.model, x)
		}
		if isTrain {
			m.optimizer.UpdateGraph(ctx, g, results[KeyLoss])
		}
		keys := m.Keys(split)
		outputs := make([]*Node, len(keys))
		for ii, key := range keys {
			outputs[ii] = results[key]
		}
		return outputs
	}
}

func (m *Module) exec(split datamodule.Split) *context.Exec {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, found := m.execs[split]
	if !found {
		exec = context.NewExec(m.backend, m.ctx, m.stepGraph(split))
		m.execs[split] = exec
	}
	return exec
}

// Results of a step, by key.
type Results map[string]float64

// Step runs one step on the batch for the given split, and logs the results as "<key>/<split>":
// per step for the train split, per epoch for the others.
//
// It returns the loss for the train split, and 0 for the others. The results are returned for
// every split.
func (m *Module) Step(batch any, split datamodule.Split) (loss float64, results Results, err error) {
	x, err := InputOf(batch)
	if err != nil {
		return 0, nil, errors.WithMessagef(err, "%s step", split)
	}
	exec := m.exec(split)
	var outputs []*tensors.Tensor
	err = TryCatch[error](func() { outputs = exec.Call(x) })
	if err != nil {
		return 0, nil, errors.WithMessagef(err, "%s step with input shaped %s", split, x.Shape())
	}
	keys := m.Keys(split)
	results = make(Results, len(keys))
	for ii, key := range keys {
		if results[key], err = scalarValue(outputs[ii]); err != nil {
			return 0, nil, errors.WithMessagef(err, "%s step result %q", split, key)
		}
	}
	m.log(split, results, x.Shape().Dimensions[0])
	if split == datamodule.Train {
		loss = results[KeyLoss]
	}
	return loss, results, nil
}

// TrainingStep runs Step for the train split.
func (m *Module) TrainingStep(batch any) (float64, Results, error) {
	return m.Step(batch, datamodule.Train)
}

// ValidationStep runs Step for the validation split.
func (m *Module) ValidationStep(batch any) (Results, error) {
	_, results, err := m.Step(batch, datamodule.Val)
	return results, err
}

// TestStep runs Step for the test split.
func (m *Module) TestStep(batch any) (Results, error) {
	_, results, err := m.Step(batch, datamodule.Test)
	return results, err
}

// log reports the results, weighted by the batch size for the per-epoch means.
func (m *Module) log(split datamodule.Split, results Results, batchSize int) {
	if m.logger == nil {
		return
	}
	scope := metrics.PerEpoch
	if split == datamodule.Train {
		scope = metrics.PerStep
	}
	for _, key := range m.Keys(split) {
		m.logger.LogWeighted(fmt.Sprintf("%s/%s", key, split), results[key], float64(batchSize), scope)
	}
}

// Forward returns the parameters the model predicts for the batch x, shaped
// [batch_size, NumParams, num_features]. Inputs of MADE models are flattened first.
func (m *Module) Forward(x *tensors.Tensor) (params *tensors.Tensor, err error) {
	m.mu.Lock()
	if m.forwards == nil {
		m.forwards = context.NewExec(m.backend, m.ctx, func(ctx *context.Context, x *Node) *Node {
			return m.model.Params(ctx, StopGradient(m.prepareInput(x)))
		})
	}
	exec := m.forwards
	m.mu.Unlock()
	err = TryCatch[error](func() { params = exec.Call(x)[0] })
	if err != nil {
		return nil, errors.WithMessagef(err, "forward of input shaped %s", x.Shape())
	}
	return params, nil
}

// GlobalStep returns the number of optimizer updates done so far.
func (m *Module) GlobalStep() int64 {
	return optimizers.GetGlobalStep(m.ctx)
}

func scalarValue(t *tensors.Tensor) (float64, error) {
	switch v := t.Value().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, errors.Errorf("expected a float scalar, got %s", t.Shape())
	}
}
