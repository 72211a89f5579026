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

package fit

import (
	"bytes"
	"strings"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/made/datamodule"
	_ "github.com/gomlx/made/datasets/synthetic"
	"github.com/gomlx/made/metrics"
	"github.com/gomlx/made/registry"
	"github.com/gomlx/made/training"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

// newLoop creates a loop over 64 synthetic examples of 6 features: 48 for training (3 batches
// of 16) and 16 for validation. The test split has 64 examples.
func newLoop(t *testing.T, config Config) (*Loop, *metrics.MemoryWriter) {
	data, err := datamodule.New(datamodule.Config{
		Dataset:     datamodule.DatasetNamed("synthetic"),
		DatasetArgs: registry.Args{"size": 64, "features": 6, "seed": 3},
		ValSize:     datamodule.ValCount(16),
		Seed:        7,
	})
	require.NoError(t, err)
	memory := &metrics.MemoryWriter{}
	recorder := metrics.NewRecorder("fit-test", memory)
	module, err := training.New(graphtest.BuildTestBackend(), context.New(), training.Config{
		ModelArgs:    registry.Args{"hidden": []any{16}},
		LearningRate: 0.01,
	}, recorder)
	require.NoError(t, err)
	return NewLoop(data, module, recorder, config), memory
}

func TestFit(t *testing.T) {
	loop, memory := newLoop(t, Config{Epochs: 2})
	var calls []string
	loop.OnStart("start", 0, func(_ *Loop, loader *datamodule.Loader) error {
		calls = append(calls, "start")
		assert.Equal(t, 3, loader.Len())
		return nil
	})
	loop.OnStep("step", 0, func(loop *Loop, results training.Results) error {
		calls = append(calls, "step")
		assert.Contains(t, results, training.KeyLoss)
		return nil
	})
	loop.OnEpochEnd("epoch", 0, func(loop *Loop, epoch int) error {
		calls = append(calls, "epoch")
		return nil
	})
	loop.OnEnd("end", 0, func(loop *Loop) error {
		calls = append(calls, "end")
		return nil
	})
	// Lower priorities run first.
	loop.OnEnd("first", -1, func(loop *Loop) error {
		calls = append(calls, "first")
		return nil
	})
	require.NoError(t, loop.Fit())
	assert.Equal(t, []string{"start", "step", "step", "step", "epoch", "step", "step", "step", "epoch", "first", "end"}, calls)
	assert.Equal(t, 6, loop.LoopStep)
	assert.Equal(t, 6, loop.EndStep)
	assert.Equal(t, int64(6), loop.Module.GlobalStep())
	assert.Len(t, memory.Values("loss/train"), 6)
	assert.Len(t, memory.Values("bpd/train"), 6)
	assert.Len(t, memory.Values("loss/val"), 2, "validation is reported once per epoch")
	assert.Len(t, loop.StepDurations, 6)
	assert.Positive(t, loop.MedianStepDuration())

	results, err := loop.Test()
	require.NoError(t, err)
	assert.Contains(t, results, "loss/test")
	assert.Contains(t, results, "bpd/test")
	assert.Equal(t, []float64{results["loss/test"]}, memory.Values("loss/test"))

	var buf bytes.Buffer
	require.NoError(t, Report(&buf, loop))
	assert.Contains(t, buf.String(), "Run fit-test: 6 steps, 2 epochs")
	assert.Contains(t, buf.String(), "bpd")
}

func TestFitMaxStepsAndValEvery(t *testing.T) {
	loop, memory := newLoop(t, Config{Epochs: 5, MaxSteps: 7, ValEvery: 2})
	require.NoError(t, loop.Fit())
	assert.Equal(t, 7, loop.LoopStep)
	assert.Equal(t, 3, loop.Epoch, "stopped during the third epoch")
	assert.Len(t, memory.Values("loss/train"), 7)
	assert.Len(t, memory.Values("loss/val"), 1, "validated only at the end of the second epoch")
}

func TestFitStops(t *testing.T) {
	loop, _ := newLoop(t, Config{Epochs: 4})
	loop.OnEpochEnd("stop", 0, func(loop *Loop, epoch int) error {
		return errors.Wrap(ErrEarlyStop, "enough")
	})
	require.NoError(t, loop.Fit())
	assert.Equal(t, 3, loop.LoopStep)
	assert.Equal(t, 1, loop.Epoch)

	loop, _ = newLoop(t, Config{Epochs: 4})
	loop.OnStep("fail", 0, func(loop *Loop, results training.Results) error {
		return errors.New("hook failure")
	})
	err := loop.Fit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook failure")
	assert.Equal(t, 0, loop.LoopStep)
}

func TestFitWithoutTrainData(t *testing.T) {
	data, err := datamodule.New(datamodule.Config{
		Dataset:        datamodule.DatasetNamed("synthetic"),
		DatasetArgs:    registry.Args{"size": 8, "features": 4},
		TrainBatchSize: intPtr(0),
	})
	require.NoError(t, err)
	recorder := metrics.NewRecorder("")
	module, err := training.New(graphtest.BuildTestBackend(), context.New(), training.Config{
		ModelArgs: registry.Args{"hidden": []any{8}},
	}, recorder)
	require.NoError(t, err)
	loop := NewLoop(data, module, recorder, Config{})
	require.Error(t, loop.Fit())

	// Test works without training: variables are initialized on first use.
	results, err := loop.Test()
	require.NoError(t, err)
	assert.Contains(t, results, "loss/test")
}

func TestEarlyStopping(t *testing.T) {
	recorder := metrics.NewRecorder("early")
	loop := &Loop{Recorder: recorder}
	hook := EarlyStopping("loss/val", 2)
	for ii, value := range []float64{3, 2, 2.5, 1.5, 1.6} {
		recorder.Log("loss/val", value, metrics.PerEpoch)
		require.NoError(t, recorder.EndEpoch())
		require.NoErrorf(t, hook(loop, ii), "epoch %d", ii)
	}
	recorder.Log("loss/val", 1.7, metrics.PerEpoch)
	require.NoError(t, recorder.EndEpoch())
	err := hook(loop, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEarlyStop)
}

func TestReportTable(t *testing.T) {
	table := ReportTable(map[string]float64{
		"loss/val":   1.5,
		"loss/train": 2,
		"bpd/test":   0.25,
		"other":      3,
	})
	assert.Contains(t, table, "Metric")
	assert.Contains(t, table, "2.0000")
	assert.Contains(t, table, "0.2500")
	// Columns ordered train, val, test.
	header := strings.Split(table, "\n")[1]
	assert.Less(t, strings.Index(header, "train"), strings.Index(header, "val"))
	assert.Less(t, strings.Index(header, "val"), strings.Index(header, "test"))
}
