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
	"fmt"
	"math/rand"

	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Example is one element of a Dataset. Input is what the model consumes and Label is optional
// (nil when the dataset is unlabeled: density estimation only needs inputs).
//
// After a ToTensor transform, Input is a *tensors.Tensor.
type Example struct {
	Input any
	Label any
}

// Dataset is a map-style dataset: a fixed number of examples, accessed by index.
//
// If a Loader is configured with workers, Example is called concurrently, and
// it must be safe to do so.
type Dataset interface {
	// Len returns the number of examples.
	Len() int

	// Example returns the example at index, with the dataset transform applied.
	Example(index int) (Example, error)
}

// DatasetOptions are given to a DatasetConstructor.
type DatasetOptions struct {
	// Train selects the training portion of the data, for datasets with a predefined
	// train/test partition.
	Train bool

	// Transform to apply to each example's input. It is never nil.
	Transform Transform

	// Args are the dataset specific arguments, from the configuration.
	Args registry.Args
}

// DatasetConstructor creates a Dataset from its options.
type DatasetConstructor func(opts DatasetOptions) (Dataset, error)

var datasetRegistry = registry.New[DatasetConstructor]("dataset")

// RegisterDataset makes a dataset constructor available by name to configurations.
// It should be called during package initialization.
func RegisterDataset(name string, constructor DatasetConstructor) {
	datasetRegistry.Register(name, constructor)
}

// LookupDataset returns the constructor registered with name.
func LookupDataset(name string) (DatasetConstructor, error) {
	return datasetRegistry.Lookup(name)
}

// DatasetNames returns the names of the registered datasets.
func DatasetNames() []string { return datasetRegistry.Names() }

// DatasetRef refers to a dataset either by its registered name or by an instance.
// The zero value refers to no dataset.
type DatasetRef struct {
	Name     string
	Instance Dataset
}

// DatasetNamed refers to a registered dataset.
func DatasetNamed(name string) DatasetRef { return DatasetRef{Name: name} }

// DatasetInstance refers to an already created dataset.
func DatasetInstance(ds Dataset) DatasetRef { return DatasetRef{Instance: ds} }

// IsZero returns whether the reference is empty.
func (ref DatasetRef) IsZero() bool { return ref.Name == "" && ref.Instance == nil }

func (ref DatasetRef) String() string {
	if ref.Instance != nil {
		return fmt.Sprintf("%T", ref.Instance)
	}
	return ref.Name
}

// UnmarshalYAML implements yaml.Unmarshaler: a dataset is referred by its name in configuration files.
func (ref *DatasetRef) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return errors.Wrapf(err, "dataset reference (line %d) must be a registered dataset name", node.Line)
	}
	*ref = DatasetNamed(name)
	return nil
}

// ResolveDataset returns the referred instance, or constructs the named dataset with opts.
// A nil opts.Transform is replaced by ToTensor.
func ResolveDataset(ref DatasetRef, opts DatasetOptions) (Dataset, error) {
	if ref.Instance != nil {
		return ref.Instance, nil
	}
	if ref.Name == "" {
		return nil, errors.New("no dataset configured")
	}
	constructor, err := LookupDataset(ref.Name)
	if err != nil {
		return nil, err
	}
	if opts.Transform == nil {
		opts.Transform = &ToTensor{}
	}
	ds, err := constructor(opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating dataset %q with args %s", ref.Name, opts.Args)
	}
	return ds, nil
}

// InMemory is a Dataset holding its raw inputs and labels in memory. The transform is
// applied when an example is read.
type InMemory struct {
	inputs, labels []any
	transform      Transform
}

var _ Dataset = (*InMemory)(nil)

// NewInMemory creates a dataset over inputs and labels. Labels can be nil, otherwise it must
// have the same length as inputs. If transform is nil, inputs are returned as is.
func NewInMemory(inputs, labels []any, transform Transform) (*InMemory, error) {
	if labels != nil && len(labels) != len(inputs) {
		return nil, errors.Errorf("InMemory dataset: %d inputs but %d labels", len(inputs), len(labels))
	}
	return &InMemory{inputs: inputs, labels: labels, transform: transform}, nil
}

// Len implements Dataset.
func (ds *InMemory) Len() int { return len(ds.inputs) }

// Example implements Dataset.
func (ds *InMemory) Example(index int) (Example, error) {
	if index < 0 || index >= len(ds.inputs) {
		return Example{}, errors.Errorf("index %d out of range for dataset of size %d", index, len(ds.inputs))
	}
	ex := Example{Input: ds.inputs[index]}
	if ds.labels != nil {
		ex.Label = ds.labels[index]
	}
	return ApplyTransform(ds.transform, ex)
}

// ApplyTransform applies transform to the example input. A nil transform is a no-op.
func ApplyTransform(transform Transform, ex Example) (Example, error) {
	if transform == nil {
		return ex, nil
	}
	input, err := transform.Apply(ex.Input)
	if err != nil {
		return ex, err
	}
	ex.Input = input
	return ex, nil
}

// Subset is a view of a Dataset restricted to the given indices.
type Subset struct {
	Dataset Dataset
	Indices []int
}

var _ Dataset = (*Subset)(nil)

// Len implements Dataset.
func (s *Subset) Len() int { return len(s.Indices) }

// Example implements Dataset.
func (s *Subset) Example(index int) (Example, error) {
	if index < 0 || index >= len(s.Indices) {
		return Example{}, errors.Errorf("index %d out of range for subset of size %d", index, len(s.Indices))
	}
	return s.Dataset.Example(s.Indices[index])
}

// RandomSplit partitions ds into non-overlapping subsets of the given lengths, which must add
// up to ds.Len(). The partition is a deterministic function of the seed and ds.Len().
func RandomSplit(ds Dataset, lengths []int, seed int64) ([]*Subset, error) {
	total := 0
	for _, length := range lengths {
		if length < 0 {
			return nil, errors.Errorf("RandomSplit: negative length in %v", lengths)
		}
		total += length
	}
	if total != ds.Len() {
		return nil, errors.Errorf("RandomSplit: sum of lengths %v is %d, but dataset has %d examples",
			lengths, total, ds.Len())
	}
	perm := rand.New(rand.NewSource(seed)).Perm(total)
	subsets := make([]*Subset, 0, len(lengths))
	start := 0
	for _, length := range lengths {
		subsets = append(subsets, &Subset{Dataset: ds, Indices: perm[start : start+length]})
		start += length
	}
	return subsets, nil
}
