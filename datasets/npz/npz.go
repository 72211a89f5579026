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

// Package npz provides datasets stored as arrays in a numpy ".npz" archive, registered as "npz".
//
// The inputs array is shaped [num_examples, ...]: each example is a Float32 tensor with the
// remaining dimensions (or shaped [1] if the array is 1D). The optional labels array is shaped
// [num_examples].
//
// Arguments:
//
//   - path: the ".npz" file. Required.
//   - inputs: the name of the inputs array. Default "x_train" or "x_test", depending on the split.
//   - labels: the name of the labels array. Default "y_train" or "y_test", if present in the archive.
//   - limit: if > 0, only the first limit examples are used.
package npz

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio/npz"
	"k8s.io/klog/v2"
)

func init() {
	datamodule.RegisterDataset("npz", func(opts datamodule.DatasetOptions) (datamodule.Dataset, error) {
		return New(opts)
	})
}

// Dataset holds the arrays of the archive in memory. It is safe for concurrent use.
type Dataset struct {
	inputs      []float32
	exampleDims []int
	exampleSize int
	labels      []any
	num         int
	transform   datamodule.Transform
}

var _ datamodule.Dataset = (*Dataset)(nil)

func arrayName(name string) string {
	if strings.HasSuffix(name, ".npy") {
		return name
	}
	return name + ".npy"
}

// New reads the arrays configured in opts.Args.
func New(opts datamodule.DatasetOptions) (*Dataset, error) {
	if err := opts.Args.CheckKnown("path", "inputs", "labels", "limit"); err != nil {
		return nil, errors.WithMessage(err, "npz")
	}
	path, err := registry.ArgOr(opts.Args, "path", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("npz: argument \"path\" is required")
	}
	defaultInputs, defaultLabels := "x_test", "y_test"
	if opts.Train {
		defaultInputs, defaultLabels = "x_train", "y_train"
	}
	inputsName, err := registry.ArgOr(opts.Args, "inputs", defaultInputs)
	if err != nil {
		return nil, err
	}
	labelsName, err := registry.ArgOr(opts.Args, "labels", "")
	if err != nil {
		return nil, err
	}
	labelsRequired := labelsName != ""
	if !labelsRequired {
		labelsName = defaultLabels
	}
	limit, err := registry.ArgOr(opts.Args, "limit", 0)
	if err != nil {
		return nil, err
	}

	path = data.ReplaceTildeInDir(path)
	r, err := npz.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "npz: opening %q", path)
	}
	defer func() { _ = r.Close() }()

	ds := &Dataset{transform: opts.Transform}
	var shape []int
	ds.inputs, shape, err = readFloat32(r, arrayName(inputsName))
	if err != nil {
		return nil, errors.WithMessagef(err, "npz: %q", path)
	}
	if len(shape) == 0 {
		return nil, errors.Errorf("npz: inputs array %q in %q is a scalar", inputsName, path)
	}
	ds.num = shape[0]
	ds.exampleDims = shape[1:]
	if len(ds.exampleDims) == 0 {
		ds.exampleDims = []int{1}
	}
	ds.exampleSize = 1
	for _, dim := range ds.exampleDims {
		ds.exampleSize *= dim
	}
	if limit > 0 && limit < ds.num {
		ds.num = limit
		ds.inputs = ds.inputs[:limit*ds.exampleSize]
	}

	if r.Header(arrayName(labelsName)) != nil {
		ds.labels, err = readLabels(r, arrayName(labelsName))
		if err != nil {
			return nil, errors.WithMessagef(err, "npz: %q", path)
		}
		if len(ds.labels) < ds.num {
			return nil, errors.Errorf("npz: %d labels in %q for %d inputs", len(ds.labels), labelsName, ds.num)
		}
		ds.labels = ds.labels[:ds.num]
	} else if labelsRequired {
		return nil, errors.Errorf("npz: labels array %q not found in %q (arrays: %v)", labelsName, path, r.Keys())
	}
	klog.V(1).Infof("npz: loaded %s examples shaped %v from %q (labeled=%v)",
		humanize.Comma(int64(ds.num)), ds.exampleDims, path, ds.labels != nil)
	return ds, nil
}

// Len implements datamodule.Dataset.
func (ds *Dataset) Len() int { return ds.num }

// Example implements datamodule.Dataset.
func (ds *Dataset) Example(index int) (datamodule.Example, error) {
	if index < 0 || index >= ds.num {
		return datamodule.Example{}, errors.Errorf("npz: index %d out of range (%d examples)", index, ds.num)
	}
	values := make([]float32, ds.exampleSize)
	copy(values, ds.inputs[index*ds.exampleSize:])
	ex := datamodule.Example{Input: tensors.FromFlatDataAndDimensions(values, ds.exampleDims...)}
	if ds.labels != nil {
		ex.Label = ds.labels[index]
	}
	return datamodule.ApplyTransform(ds.transform, ex)
}

// dtypeOf returns the numpy type without the byte order prefix, e.g.: "f4".
func dtypeOf(r *npz.Reader, name string) (string, []int, error) {
	header := r.Header(name)
	if header == nil {
		return "", nil, errors.Errorf("array %q not found (arrays: %v)", name, r.Keys())
	}
	if header.Descr.Fortran {
		return "", nil, errors.Errorf("array %q is in Fortran order, which is not supported", name)
	}
	return strings.TrimLeft(header.Descr.Type, "<>|="), header.Descr.Shape, nil
}

// readFloat32 reads any numeric array converted to float32.
func readFloat32(r *npz.Reader, name string) ([]float32, []int, error) {
	dtype, shape, err := dtypeOf(r, name)
	if err != nil {
		return nil, nil, err
	}
	switch dtype {
	case "f4":
		var values []float32
		err = r.Read(name, &values)
		return values, shape, errors.Wrapf(err, "reading %q", name)
	case "f8":
		values, err := readAs[float64](r, name)
		return convert(values), shape, err
	case "u1":
		values, err := readAs[uint8](r, name)
		return convert(values), shape, err
	case "i4":
		values, err := readAs[int32](r, name)
		return convert(values), shape, err
	case "i8":
		values, err := readAs[int64](r, name)
		return convert(values), shape, err
	}
	return nil, nil, errors.Errorf("array %q has unsupported dtype %q", name, dtype)
}

func readAs[T any](r *npz.Reader, name string) ([]T, error) {
	var values []T
	if err := r.Read(name, &values); err != nil {
		return nil, errors.Wrapf(err, "reading %q", name)
	}
	return values, nil
}

func convert[T float64 | uint8 | int32 | int64](values []T) []float32 {
	result := make([]float32, len(values))
	for ii, v := range values {
		result[ii] = float32(v)
	}
	return result
}

// readLabels reads a 1D labels array: integer labels are returned as int, floats as float32.
func readLabels(r *npz.Reader, name string) ([]any, error) {
	dtype, shape, err := dtypeOf(r, name)
	if err != nil {
		return nil, err
	}
	if len(shape) != 1 {
		return nil, errors.Errorf("labels array %q must be 1D, got shape %v", name, shape)
	}
	switch dtype {
	case "u1", "i4", "i8":
		var values []int64
		switch dtype {
		case "u1":
			raw, err := readAs[uint8](r, name)
			if err != nil {
				return nil, err
			}
			values = widen(raw)
		case "i4":
			raw, err := readAs[int32](r, name)
			if err != nil {
				return nil, err
			}
			values = widen(raw)
		default:
			if values, err = readAs[int64](r, name); err != nil {
				return nil, err
			}
		}
		labels := make([]any, len(values))
		for ii, v := range values {
			labels[ii] = int(v)
		}
		return labels, nil
	}
	floats, _, err := readFloat32(r, name)
	if err != nil {
		return nil, err
	}
	labels := make([]any, len(floats))
	for ii, v := range floats {
		labels[ii] = v
	}
	return labels, nil
}

func widen[T uint8 | int32](values []T) []int64 {
	result := make([]int64, len(values))
	for ii, v := range values {
		result[ii] = int64(v)
	}
	return result
}
