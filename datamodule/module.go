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

// Package datamodule resolves datasets and transforms from a configuration, splits the data
// into train, validation and test, and creates the batch loaders for each split.
//
// The datasets and transforms are late-bound by name, through registries populated by the
// packages providing them (see package datasets and its sub-packages).
package datamodule

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Module holds the configuration of the data pipeline and, after Setup, the datasets of
// each split.
//
// The configuration is immutable after New. Setup and the loader constructors can be
// called concurrently.
type Module struct {
	config Config

	datasets   PerSplit[DatasetRef]
	transforms PerSplit[Transform]
	batchSizes PerSplit[int]
	shuffles   PerSplit[bool]
	numWorkers PerSplit[int]

	mu                           sync.Mutex
	trainData, valData, testData Dataset
	dims                         []int
	setupDone                    map[Stage]bool
}

// New validates the configuration, resolves the transforms and returns a Module ready for Setup.
//
// It fails if the validation size is invalid or if all batch sizes are zero.
func New(config Config) (*Module, error) {
	if err := config.ValSize.Validate(); err != nil {
		return nil, err
	}
	m := &Module{
		config:     config,
		datasets:   config.datasets(),
		batchSizes: config.batchSizes(),
		shuffles:   config.shuffles(),
		numWorkers: config.numWorkers(),
		setupDone:  make(map[Stage]bool),
	}
	anyBatch := false
	for _, split := range Splits {
		batchSize := m.batchSizes.Get(split)
		if batchSize < 0 {
			return nil, errors.Errorf("%s batch size must be non-negative, got %d", split, batchSize)
		}
		anyBatch = anyBatch || batchSize > 0
	}
	if !anyBatch {
		return nil, errors.New("at least one of train, val or test batch sizes must be a positive number")
	}
	var err error
	m.transforms, err = Map(config.transforms(), func(_ Split, spec *TransformSpec) (Transform, error) {
		return ResolveTransform(spec)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "resolving transforms")
	}
	return m, nil
}

// Config returns the configuration the module was created with.
func (m *Module) Config() Config { return m.config }

// Transform returns the resolved transform pipeline of split.
func (m *Module) Transform(split Split) Transform { return m.transforms.Get(split) }

// BatchSize of split. 0 means the split is disabled.
func (m *Module) BatchSize(split Split) int { return m.batchSizes.Get(split) }

// Shuffle returns whether the loader of split shuffles the examples.
func (m *Module) Shuffle(split Split) bool { return m.shuffles.Get(split) }

// NumWorkers of the loader of split.
func (m *Module) NumWorkers(split Split) int { return m.numWorkers.Get(split) }

// resolve creates the dataset of split.
func (m *Module) resolve(split Split, train bool) (Dataset, error) {
	ref := m.datasets.Get(split)
	ds, err := ResolveDataset(ref, DatasetOptions{
		Train:     train,
		Transform: m.transforms.Get(split),
		Args:      m.config.datasetArgs(split),
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s dataset", split)
	}
	return ds, nil
}

// Setup creates the datasets for the stage. It is a no-op if the stage was already set up.
//
//   - StageFit, if the train batch size is not 0: the training dataset is resolved. If a
//     validation size is configured (and the val batch size is not 0) it is randomly split into
//     train and validation, using the configured seed. Otherwise, if the val batch size is not
//     0, the validation dataset is resolved on its own.
//   - StageTest, if the test batch size is not 0: the test dataset is resolved.
func (m *Module) Setup(stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setupDone[stage] {
		return nil
	}
	var err error
	switch stage {
	case StageFit:
		err = m.setupFit()
	case StageTest:
		err = m.setupTest()
	default:
		err = errors.Errorf("unknown stage %d", stage)
	}
	if err != nil {
		return errors.WithMessagef(err, "setup(%s)", stage)
	}
	m.setupDone[stage] = true
	return nil
}

func (m *Module) setupFit() error {
	if m.BatchSize(Train) == 0 {
		klog.V(1).Infof("datamodule: train batch size is 0, skipping fit setup")
		return nil
	}
	dataset, err := m.resolve(Train, true)
	if err != nil {
		return err
	}
	valSize := m.config.ValSize
	switch {
	case valSize.IsSet() && m.BatchSize(Val) > 0:
		trainLen, err := valSize.TrainLength(dataset.Len())
		if err != nil {
			return err
		}
		parts, err := RandomSplit(dataset, []int{trainLen, dataset.Len() - trainLen}, m.config.Seed)
		if err != nil {
			return err
		}
		m.trainData, m.valData = parts[0], parts[1]
		klog.V(1).Infof("datamodule: split %s examples into %s train and %s validation (val_size=%s, seed=%d)",
			humanize.Comma(int64(dataset.Len())), humanize.Comma(int64(trainLen)),
			humanize.Comma(int64(dataset.Len()-trainLen)), valSize, m.config.Seed)
	case valSize.IsSet():
		klog.Warningf("datamodule: val_size=%s configured but val batch size is 0, validation is skipped", valSize)
		m.trainData = dataset
	default:
		var valData Dataset
		if m.BatchSize(Val) > 0 {
			if valData, err = m.resolve(Val, true); err != nil {
				return err
			}
		}
		m.trainData, m.valData = dataset, valData
	}
	klog.V(1).Infof("datamodule: train dataset with %s examples, transform %s",
		humanize.Comma(int64(m.trainData.Len())), describeTransform(m.Transform(Train)))
	return m.recordDims(m.trainData)
}

func (m *Module) setupTest() error {
	if m.BatchSize(Test) == 0 {
		klog.V(1).Infof("datamodule: test batch size is 0, skipping test setup")
		return nil
	}
	dataset, err := m.resolve(Test, false)
	if err != nil {
		return err
	}
	m.testData = dataset
	klog.V(1).Infof("datamodule: test dataset with %s examples", humanize.Comma(int64(dataset.Len())))
	return m.recordDims(dataset)
}

// recordDims keeps the dimensions of the input of the first example of ds.
func (m *Module) recordDims(ds Dataset) error {
	if ds.Len() == 0 {
		return nil
	}
	ex, err := ds.Example(0)
	if err != nil {
		return errors.WithMessage(err, "reading first example")
	}
	m.dims = tensorDims(ex.Input)
	return nil
}

// Dims returns the dimensions of an example input (without the batch axis), as seen by the
// last Setup. It is nil before Setup.
func (m *Module) Dims() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.dims...)
}

// Data returns the dataset of split, or nil if it was not set up.
func (m *Module) Data(split Split) Dataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch split {
	case Train:
		return m.trainData
	case Val:
		return m.valData
	case Test:
		return m.testData
	}
	return nil
}

// TrainData returns the training dataset, or nil.
func (m *Module) TrainData() Dataset { return m.Data(Train) }

// ValData returns the validation dataset, or nil.
func (m *Module) ValData() Dataset { return m.Data(Val) }

// TestData returns the test dataset, or nil.
func (m *Module) TestData() Dataset { return m.Data(Test) }

// Loader creates a loader for split, with the configured batch size, shuffle and number of
// workers. The options can override those.
//
// It returns nil (and no error) if there is no data for the split: either Setup wasn't
// called for the corresponding stage, or the split is disabled.
func (m *Module) Loader(split Split, options ...LoaderOption) (*Loader, error) {
	ds := m.Data(split)
	if ds == nil {
		return nil, nil
	}
	defaults := []LoaderOption{
		WithName(split.String()),
		WithBatchSize(m.BatchSize(split)),
		WithShuffle(m.Shuffle(split)),
		WithNumWorkers(m.NumWorkers(split)),
		WithSeed(m.config.Seed),
	}
	loader, err := NewLoader(ds, append(defaults, options...)...)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s loader", split)
	}
	return loader, nil
}

// TrainLoader is a shortcut to Loader(Train, options...).
func (m *Module) TrainLoader(options ...LoaderOption) (*Loader, error) {
	return m.Loader(Train, options...)
}

// ValLoader is a shortcut to Loader(Val, options...).
func (m *Module) ValLoader(options ...LoaderOption) (*Loader, error) {
	return m.Loader(Val, options...)
}

// TestLoader is a shortcut to Loader(Test, options...).
func (m *Module) TestLoader(options ...LoaderOption) (*Loader, error) {
	return m.Loader(Test, options...)
}
