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
	"image"
	"image/color"
	"strings"

	"github.com/gomlx/gomlx/types/tensors"
	timage "github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Transform preprocesses the input of one example.
type Transform interface {
	Apply(input any) (any, error)
}

// TransformFunc adapts a function to a Transform.
type TransformFunc func(input any) (any, error)

// Apply implements Transform.
func (fn TransformFunc) Apply(input any) (any, error) { return fn(input) }

// Compose applies its transforms in order.
type Compose struct {
	Transforms []Transform
}

// Apply implements Transform.
func (c *Compose) Apply(input any) (any, error) {
	var err error
	for ii, t := range c.Transforms {
		input, err = t.Apply(input)
		if err != nil {
			return nil, errors.WithMessagef(err, "Compose: transform #%d (%s)", ii, describeTransform(t))
		}
	}
	return input, nil
}

func (c *Compose) String() string {
	parts := make([]string, len(c.Transforms))
	for ii, t := range c.Transforms {
		parts[ii] = describeTransform(t)
	}
	return "Compose(" + strings.Join(parts, ", ") + ")"
}

func describeTransform(t Transform) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", t)
}

// ToTensor converts an example input to a float32 tensor. It is the default transform.
//
// Accepted inputs:
//
//   - image.Image: converted to [height, width, channels] with values in [0, 1]. Grayscale images
//     have 1 channel, others 3 (alpha is dropped).
//   - []uint8: converted to a vector with values in [0, 1].
//   - []float32, []float64: converted to a vector.
//   - *tensors.Tensor: float32 tensors are returned as is, other float types are converted.
type ToTensor struct{}

func (*ToTensor) String() string { return "ToTensor()" }

// Apply implements Transform.
func (*ToTensor) Apply(input any) (any, error) {
	switch v := input.(type) {
	case *tensors.Tensor:
		switch v.DType() {
		case dtypes.Float32:
			return v, nil
		case dtypes.Float64:
			flat := tensors.CopyFlatData[float64](v)
			converted := make([]float32, len(flat))
			for ii, f := range flat {
				converted[ii] = float32(f)
			}
			return tensors.FromFlatDataAndDimensions(converted, v.Shape().Dimensions...), nil
		}
		return nil, errors.Errorf("ToTensor: tensor of dtype %s not supported", v.DType())
	case image.Image:
		return imageToTensor(v), nil
	case []uint8:
		converted := make([]float32, len(v))
		for ii, b := range v {
			converted[ii] = float32(b) / 255
		}
		return tensors.FromFlatDataAndDimensions(converted, len(converted)), nil
	case []float32:
		return tensors.FromFlatDataAndDimensions(append([]float32(nil), v...), len(v)), nil
	case []float64:
		converted := make([]float32, len(v))
		for ii, f := range v {
			converted[ii] = float32(f)
		}
		return tensors.FromFlatDataAndDimensions(converted, len(converted)), nil
	}
	return nil, errors.Errorf("ToTensor: input of type %T not supported", input)
}

func imageToTensor(img image.Image) *tensors.Tensor {
	t := timage.ToTensor(dtypes.Float32).Single(img)
	model := img.ColorModel()
	if model != color.GrayModel && model != color.Gray16Model {
		return t
	}
	// Grayscale: all 3 channels are the same, keep only the first.
	dims := t.Shape().Dimensions
	rgb := tensors.CopyFlatData[float32](t)
	gray := make([]float32, len(rgb)/3)
	for ii := range gray {
		gray[ii] = rgb[3*ii]
	}
	return tensors.FromFlatDataAndDimensions(gray, dims[0], dims[1], 1)
}

// float32Input returns the flat data and dimensions of a float32 tensor input.
func float32Input(name string, input any) ([]float32, []int, error) {
	t, ok := input.(*tensors.Tensor)
	if !ok {
		return nil, nil, errors.Errorf("%s: expected a *tensors.Tensor input, got %T -- did you forget ToTensor?", name, input)
	}
	if t.DType() != dtypes.Float32 {
		return nil, nil, errors.Errorf("%s: expected a Float32 tensor, got %s", name, t.Shape())
	}
	return tensors.CopyFlatData[float32](t), t.Shape().Dimensions, nil
}

// Reshape changes the dimensions of a tensor input. One dimension can be -1, in which case it
// is inferred from the size of the input.
type Reshape struct {
	Shape []int
}

func (r *Reshape) String() string { return fmt.Sprintf("Reshape(shape=%v)", r.Shape) }

// Apply implements Transform.
func (r *Reshape) Apply(input any) (any, error) {
	flat, _, err := float32Input("Reshape", input)
	if err != nil {
		return nil, err
	}
	dims, err := inferDimensions(r.Shape, len(flat))
	if err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

func inferDimensions(dims []int, size int) ([]int, error) {
	dims = append([]int(nil), dims...)
	known, inferred := 1, -1
	for ii, dim := range dims {
		switch {
		case dim == -1 && inferred == -1:
			inferred = ii
		case dim <= 0:
			return nil, errors.Errorf("Reshape: invalid shape %v", dims)
		default:
			known *= dim
		}
	}
	if inferred >= 0 {
		if known == 0 || size%known != 0 {
			return nil, errors.Errorf("Reshape: cannot reshape %d elements into %v", size, dims)
		}
		dims[inferred] = size / known
		known *= dims[inferred]
	}
	if known != size {
		return nil, errors.Errorf("Reshape: cannot reshape %d elements into %v", size, dims)
	}
	return dims, nil
}

// Flatten reshapes a tensor input to a vector.
type Flatten struct{}

func (*Flatten) String() string { return "Flatten()" }

// Apply implements Transform.
func (*Flatten) Apply(input any) (any, error) {
	flat, _, err := float32Input("Flatten", input)
	if err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(flat, len(flat)), nil
}

// Binarize maps values above Threshold to 1 and the others to 0. Used to model images with
// Bernoulli likelihoods.
type Binarize struct {
	Threshold float32
}

func (b *Binarize) String() string { return fmt.Sprintf("Binarize(threshold=%g)", b.Threshold) }

// Apply implements Transform.
func (b *Binarize) Apply(input any) (any, error) {
	flat, dims, err := float32Input("Binarize", input)
	if err != nil {
		return nil, err
	}
	for ii, v := range flat {
		if v > b.Threshold {
			flat[ii] = 1
		} else {
			flat[ii] = 0
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// Normalize subtracts Mean and divides by Std. With one value each, it applies to all
// elements; otherwise there must be one value per channel (the last axis).
type Normalize struct {
	Mean, Std []float64
}

func (n *Normalize) String() string { return fmt.Sprintf("Normalize(mean=%v, std=%v)", n.Mean, n.Std) }

// Apply implements Transform.
func (n *Normalize) Apply(input any) (any, error) {
	if len(n.Mean) == 0 || len(n.Mean) != len(n.Std) {
		return nil, errors.Errorf("Normalize: mean %v and std %v must be non-empty and of the same length", n.Mean, n.Std)
	}
	flat, dims, err := float32Input("Normalize", input)
	if err != nil {
		return nil, err
	}
	numChannels := len(n.Mean)
	if numChannels > 1 && (len(dims) == 0 || dims[len(dims)-1] != numChannels) {
		return nil, errors.Errorf("Normalize: %d channels configured, but input is shaped %v", numChannels, dims)
	}
	for ii, v := range flat {
		channel := ii % numChannels
		flat[ii] = float32((float64(v) - n.Mean[channel]) / n.Std[channel])
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// FitNormalize returns a Normalize transform with the mean and standard deviation of all values
// of the first limit examples of ds (all of them if limit <= 0). The inputs of ds must be
// float32 tensors.
func FitNormalize(ds Dataset, limit int) (*Normalize, error) {
	n := ds.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil, errors.New("FitNormalize: empty dataset")
	}
	var values []float64
	for ii := range n {
		ex, err := ds.Example(ii)
		if err != nil {
			return nil, errors.WithMessagef(err, "FitNormalize: example %d", ii)
		}
		flat, _, err := float32Input("FitNormalize", ex.Input)
		if err != nil {
			return nil, err
		}
		for _, v := range flat {
			values = append(values, float64(v))
		}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if std == 0 {
		std = 1
	}
	return &Normalize{Mean: []float64{mean}, Std: []float64{std}}, nil
}

// tensorDims is a helper for logging and Module.Dims: it returns the dimensions of x if it's a tensor.
func tensorDims(x any) []int {
	if t, ok := x.(*tensors.Tensor); ok {
		return append([]int(nil), t.Shape().Dimensions...)
	}
	if img, ok := x.(image.Image); ok {
		size := img.Bounds().Size()
		return []int{size.Y, size.X}
	}
	return nil
}
