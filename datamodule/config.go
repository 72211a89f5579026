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

package datamodule

import (
	"github.com/gomlx/made/registry"
)

// DefaultBatchSize is used when Config.BatchSize is nil.
const DefaultBatchSize = 16

// Config of a data Module. The zero value uses Dataset for all splits, ToTensor transforms,
// batch size DefaultBatchSize, shuffles only the training data and loads examples inline
// (no workers).
//
// Per-split fields (TrainX, ValX, TestX) override the shared value when set.
type Config struct {
	Dataset     DatasetRef    `yaml:"dataset"`
	DatasetArgs registry.Args `yaml:"dataset_args"`

	TrainDataset     DatasetRef    `yaml:"train_dataset"`
	TrainDatasetArgs registry.Args `yaml:"train_dataset_args"`
	ValDataset       DatasetRef    `yaml:"val_dataset"`
	ValDatasetArgs   registry.Args `yaml:"val_dataset_args"`
	TestDataset      DatasetRef    `yaml:"test_dataset"`
	TestDatasetArgs  registry.Args `yaml:"test_dataset_args"`

	// ValSize carves a validation split out of the training dataset.
	ValSize ValSize `yaml:"val_size"`

	Transforms      *TransformSpec `yaml:"transforms"`
	TrainTransforms *TransformSpec `yaml:"train_transforms"`
	ValTransforms   *TransformSpec `yaml:"val_transforms"`
	TestTransforms  *TransformSpec `yaml:"test_transforms"`

	// BatchSize defaults to DefaultBatchSize. A batch size of 0 disables the split.
	BatchSize      *int `yaml:"batch_size"`
	TrainBatchSize *int `yaml:"train_batch_size"`
	ValBatchSize   *int `yaml:"val_batch_size"`
	TestBatchSize  *int `yaml:"test_batch_size"`

	// Shuffle defaults to true for train and false for val and test.
	TrainShuffle *bool `yaml:"train_shuffle"`
	ValShuffle   *bool `yaml:"val_shuffle"`
	TestShuffle  *bool `yaml:"test_shuffle"`

	// NumWorkers is the number of goroutines fetching examples. 0 fetches them inline,
	// -1 uses one goroutine per physical core.
	NumWorkers      int  `yaml:"num_workers"`
	TrainNumWorkers *int `yaml:"train_num_workers"`
	ValNumWorkers   *int `yaml:"val_num_workers"`
	TestNumWorkers  *int `yaml:"test_num_workers"`

	// Seed of the train/validation split and of the loaders shuffling.
	Seed int64 `yaml:"seed"`
}

// datasets returns the per-split dataset references: the shared Dataset with overrides.
func (c *Config) datasets() PerSplit[DatasetRef] {
	return NewPerSplit(c.Dataset, nonZeroRef(c.TrainDataset), nonZeroRef(c.ValDataset), nonZeroRef(c.TestDataset))
}

func nonZeroRef(ref DatasetRef) *DatasetRef {
	if ref.IsZero() {
		return nil
	}
	return &ref
}

// datasetArgs merges the shared DatasetArgs with the per-split ones.
func (c *Config) datasetArgs(split Split) registry.Args {
	switch split {
	case Train:
		return registry.Merge(c.DatasetArgs, c.TrainDatasetArgs)
	case Val:
		return registry.Merge(c.DatasetArgs, c.ValDatasetArgs)
	}
	return registry.Merge(c.DatasetArgs, c.TestDatasetArgs)
}

func (c *Config) transforms() PerSplit[*TransformSpec] {
	return NewPerSplit(c.Transforms, nonNil(c.TrainTransforms), nonNil(c.ValTransforms), nonNil(c.TestTransforms))
}

func nonNil[T any](v *T) **T {
	if v == nil {
		return nil
	}
	return &v
}

func (c *Config) batchSizes() PerSplit[int] {
	shared := DefaultBatchSize
	if c.BatchSize != nil {
		shared = *c.BatchSize
	}
	return NewPerSplit(shared, c.TrainBatchSize, c.ValBatchSize, c.TestBatchSize)
}

func (c *Config) shuffles() PerSplit[bool] {
	train, val, test := true, false, false
	if c.TrainShuffle != nil {
		train = *c.TrainShuffle
	}
	if c.ValShuffle != nil {
		val = *c.ValShuffle
	}
	if c.TestShuffle != nil {
		test = *c.TestShuffle
	}
	return NewPerSplit(false, &train, &val, &test)
}

func (c *Config) numWorkers() PerSplit[int] {
	return NewPerSplit(c.NumWorkers, c.TrainNumWorkers, c.ValNumWorkers, c.TestNumWorkers)
}
