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

// Package fit runs the training of a training.Module over the splits of a datamodule.Module:
// epochs over the train split, validation at the end of epochs, and a final test run.
//
// Loop is modeled after GoMLX's train.Loop: in itself it doesn't do much, but hooks can be
// attached to it (progress bar, reports, early-stopping, etc.).
package fit

import (
	"io"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/metrics"
	"github.com/gomlx/made/training"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config of the Loop.
type Config struct {
	// Epochs to train. Default 1.
	Epochs int `yaml:"epochs"`

	// MaxSteps interrupts training after this many steps, if > 0.
	MaxSteps int `yaml:"max_steps"`

	// ValEvery is the number of epochs between validations. Default 1.
	ValEvery int `yaml:"val_every"`
}

func (c Config) withDefaults() Config {
	if c.Epochs == 0 {
		c.Epochs = 1
	}
	if c.ValEvery == 0 {
		c.ValEvery = 1
	}
	return c
}

// ErrEarlyStop can be returned (possibly wrapped) by an OnEpochEnd hook to stop Fit after the
// current epoch. Fit then ends normally, calling the OnEnd hooks, and returns no error.
var ErrEarlyStop = errors.New("early stop")

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks. loader is the one being iterated.
type OnStartFn func(loop *Loop, loader *datamodule.Loader) error

// OnStepFn is the type of OnStep hooks, called after each training step.
type OnStepFn func(loop *Loop, results training.Results) error

// OnEpochEndFn is the type of OnEpochEnd hooks, called after the validation of the epoch.
type OnEpochEndFn func(loop *Loop, epoch int) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(loop *Loop) error

// Loop trains a training.Module with the data of a datamodule.Module, and reports the results
// to a metrics.Recorder.
//
// The public attributes are meant for reading only.
type Loop struct {
	Data     *datamodule.Module
	Module   *training.Module
	Recorder *metrics.Recorder
	Config   Config

	// LoopStep currently being executed. It is not reset between calls to Fit.
	LoopStep int

	// StartStep is the value of LoopStep at the start of Fit.
	StartStep int

	// EndStep is one-past the last step to be executed.
	EndStep int

	// Epoch currently being executed, starting from 0.
	Epoch int

	// StepDurations of the training steps of the last Fit.
	StepDurations []time.Duration

	onStart    *priorityHooks[*hookWithName[OnStartFn]]
	onStep     *priorityHooks[*hookWithName[OnStepFn]]
	onEpochEnd *priorityHooks[*hookWithName[OnEpochEndFn]]
	onEnd      *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a new Loop. If recorder is nil, one without writers is created.
func NewLoop(data *datamodule.Module, module *training.Module, recorder *metrics.Recorder, config Config) *Loop {
	if recorder == nil {
		recorder = metrics.NewRecorder("")
	}
	return &Loop{
		Data:       data,
		Module:     module,
		Recorder:   recorder,
		Config:     config.withDefaults(),
		onStart:    newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:     newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpochEnd: newPriorityHooks[*hookWithName[OnEpochEndFn]](),
		onEnd:      newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// Fit sets up the data for fitting and trains for Config.Epochs epochs (or until Config.MaxSteps).
// At the end of every Config.ValEvery epochs the validation split, if any, is evaluated.
func (loop *Loop) Fit() error {
	if err := loop.Data.Setup(datamodule.StageFit); err != nil {
		return err
	}
	trainLoader, err := loop.Data.TrainLoader(datamodule.WithName("train"))
	if err != nil {
		return err
	}
	if trainLoader == nil {
		return errors.New("Fit: no training data, is the train batch size 0?")
	}
	valLoader, err := loop.Data.ValLoader(datamodule.WithName("val"))
	if err != nil {
		return err
	}
	epochs := loop.Config.Epochs
	loop.StartStep = loop.LoopStep
	loop.EndStep = loop.LoopStep + epochs*trainLoader.Len()
	if loop.Config.MaxSteps > 0 {
		loop.EndStep = min(loop.EndStep, loop.StartStep+loop.Config.MaxSteps)
	}
	klog.V(1).Infof("fit: %d epochs, %d steps, train %s, val %v", epochs, loop.EndStep-loop.StartStep, trainLoader, valLoader)
	if err = loop.start(trainLoader); err != nil {
		return err
	}
	loop.StepDurations = make([]time.Duration, 0, loop.EndStep-loop.StartStep)
	for loop.Epoch = 0; loop.Epoch < epochs && loop.LoopStep < loop.EndStep; loop.Epoch++ {
		for loop.LoopStep < loop.EndStep {
			_, inputs, _, err := trainLoader.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				trainLoader.Reset()
				return errors.WithMessagef(err, "Fit: failed reading from %s (LoopStep=%d)", trainLoader.Name(), loop.LoopStep)
			}
			if err = loop.step(inputs); err != nil {
				trainLoader.Reset()
				return errors.WithMessagef(err, "Fit: failed training step (LoopStep=%d)", loop.LoopStep)
			}
			loop.LoopStep++
		}
		trainLoader.Reset()
		if valLoader != nil && (loop.Epoch+1)%loop.Config.ValEvery == 0 {
			if err = loop.evaluate(valLoader, datamodule.Val); err != nil {
				return err
			}
		}
		if err = loop.endEpoch(); err != nil {
			if errors.Is(err, ErrEarlyStop) {
				klog.Infof("fit: stopped after epoch %d: %v", loop.Epoch, err)
				loop.Epoch++
				break
			}
			return err
		}
	}
	return loop.end()
}

// Test sets up the data for testing and evaluates the test split. The mean of the results is
// reported at the end, and returned as well (keyed "<key>/test").
func (loop *Loop) Test() (map[string]float64, error) {
	if err := loop.Data.Setup(datamodule.StageTest); err != nil {
		return nil, err
	}
	testLoader, err := loop.Data.TestLoader(datamodule.WithName("test"))
	if err != nil {
		return nil, err
	}
	if testLoader == nil {
		return nil, errors.New("Test: no test data, is the test batch size 0?")
	}
	if err = loop.evaluate(testLoader, datamodule.Test); err != nil {
		return nil, err
	}
	if err = loop.Recorder.EndEpoch(); err != nil {
		return nil, err
	}
	latest := loop.Recorder.Latest()
	results := make(map[string]float64)
	for _, key := range loop.Module.Keys(datamodule.Test) {
		name := key + "/" + datamodule.Test.String()
		if value, found := latest[name]; found {
			results[name] = value
		}
	}
	return results, nil
}

// evaluate runs the module over all batches of loader for split. The results are logged by the
// module per epoch.
func (loop *Loop) evaluate(loader *datamodule.Loader, split datamodule.Split) error {
	defer loader.Reset()
	for {
		_, inputs, _, err := loader.Yield()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.WithMessagef(err, "failed reading from %s", loader.Name())
		}
		if _, _, err = loop.Module.Step(inputs, split); err != nil {
			return err
		}
	}
}

func (loop *Loop) start(loader *datamodule.Loader) (err error) {
	loop.onStart.Enumerate(func(hook *hookWithName[OnStartFn]) {
		if err != nil {
			// After the first error stop.
			return
		}
		err = hook.fn(loop, loader)
		if err != nil {
			err = errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	})
	return
}

// step runs one training step and calls the OnStep hooks.
func (loop *Loop) step(batch any) error {
	startTime := time.Now()
	loop.Recorder.SetStep(loop.Module.GlobalStep() + 1)
	loss, results, err := loop.Module.TrainingStep(batch)
	loop.StepDurations = append(loop.StepDurations, time.Since(startTime))
	if err != nil {
		return err
	}
	if math.IsNaN(loss) {
		return errors.Errorf("batch loss is NaN, training interrupted")
	}
	if math.IsInf(loss, 0) {
		return errors.Errorf("batch loss is infinity (%f), training interrupted", loss)
	}
	loop.onStep.Enumerate(func(hook *hookWithName[OnStepFn]) {
		if err != nil {
			return
		}
		err = hook.fn(loop, results)
		if err != nil {
			err = errors.WithMessagef(err, "OnStep(hook %q)", hook.name)
		}
	})
	return err
}

func (loop *Loop) endEpoch() (err error) {
	if err = loop.Recorder.EndEpoch(); err != nil {
		return err
	}
	loop.onEpochEnd.Enumerate(func(hook *hookWithName[OnEpochEndFn]) {
		if err != nil {
			return
		}
		err = hook.fn(loop, loop.Epoch)
		if err != nil {
			err = errors.WithMessagef(err, "OnEpochEnd(hook %q)", hook.name)
		}
	})
	return
}

func (loop *Loop) end() (err error) {
	loop.onEnd.Enumerate(func(hook *hookWithName[OnEndFn]) {
		if err != nil {
			return
		}
		err = hook.fn(loop)
		if err != nil {
			err = errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	})
	return
}

// MedianStepDuration returns the median duration of the training steps of the last Fit. It
// returns 1 millisecond if no step was recorded.
func (loop *Loop) MedianStepDuration() time.Duration {
	if len(loop.StepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.StepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of Fit.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with given priority and name (for error reporting) called after each
// training step.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEpochEnd adds a hook with given priority and name (for error reporting) called at the end
// of each epoch, after validation and after the per-epoch metrics are reported.
func (loop *Loop) OnEpochEnd(name string, priority Priority, fn OnEpochEndFn) {
	loop.onEpochEnd.Add(priority, &hookWithName[OnEpochEndFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of Fit.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{hooks: make(map[Priority][]H)}
}

func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// Enumerate calls fn for all registered hooks in priority order.
func (h *priorityHooks[H]) Enumerate(fn func(hook H)) {
	keys := make([]Priority, 0, len(h.hooks))
	for key := range h.hooks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		for _, hook := range h.hooks[key] {
			fn(hook)
		}
	}
}
