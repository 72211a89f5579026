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
	"image"
	"image/color"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResolveTransformDefault(t *testing.T) {
	tr, err := ResolveTransform(nil)
	require.NoError(t, err)
	assert.IsType(t, &ToTensor{}, tr)

	tr, err = ResolveTransform(&TransformSpec{})
	require.NoError(t, err)
	assert.IsType(t, &ToTensor{}, tr)
}

func TestResolveTransformInstance(t *testing.T) {
	binarize := &Binarize{Threshold: 0.1}
	tr, err := ResolveTransform(TransformValue(binarize))
	require.NoError(t, err)
	assert.Same(t, binarize, tr)
}

func TestResolveTransformSequence(t *testing.T) {
	spec := TransformList(
		TransformByName("ToTensor", nil),
		TransformByName("Binarize", registry.Args{"threshold": 0.5}),
	)
	assert.Equal(t, KindSequence, spec.Kind())
	tr, err := ResolveTransform(spec)
	require.NoError(t, err)
	compose, ok := tr.(*Compose)
	require.True(t, ok)
	require.Len(t, compose.Transforms, 2)
	assert.IsType(t, &ToTensor{}, compose.Transforms[0])
	require.IsType(t, &Binarize{}, compose.Transforms[1])
	assert.Equal(t, float32(0.5), compose.Transforms[1].(*Binarize).Threshold)

	out, err := tr.Apply([]float32{0.2, 0.8, 0.5})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, tensors.CopyFlatData[float32](out.(*tensors.Tensor)))

	// Order matters: Binarize needs a tensor.
	reversed, err := ResolveTransform(TransformList(
		TransformByName("Binarize", nil),
		TransformByName("ToTensor", nil),
	))
	require.NoError(t, err)
	_, err = reversed.Apply([]float32{0.2, 0.8})
	require.Error(t, err)
}

func TestResolveTransformErrors(t *testing.T) {
	_, err := ResolveTransform(TransformByName("NoSuchTransform", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrNotFound))

	_, err = ResolveTransform(TransformByName("Binarize", registry.Args{"treshold": 0.5}))
	require.Error(t, err)

	_, err = ResolveTransform(TransformByName("Reshape", nil))
	require.Error(t, err)
}

func TestTransformSpecYAML(t *testing.T) {
	var cfg Config
	err := yaml.Unmarshal([]byte(`
dataset: test.range
dataset_args:
  size: 20
val_size: 0.25
batch_size: 8
test_batch_size: 0
train_shuffle: false
transforms:
  - cls: ToTensor
  - cls: Reshape
    args:
      shape: [2, -1]
val_transforms: Flatten
`), &cfg)
	require.NoError(t, err)
	assert.Equal(t, "test.range", cfg.Dataset.Name)
	assert.True(t, cfg.ValSize.IsFraction())
	assert.Equal(t, "0.25", cfg.ValSize.String())
	require.NotNil(t, cfg.Transforms)
	assert.Equal(t, KindSequence, cfg.Transforms.Kind())
	assert.Equal(t, "[ToTensor, Reshape{shape: [2 -1]}]", cfg.Transforms.String())
	assert.Equal(t, KindClass, cfg.ValTransforms.Kind())
	assert.Nil(t, cfg.TestTransforms)

	m, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 8, m.BatchSize(Train))
	assert.Equal(t, 0, m.BatchSize(Test))
	assert.False(t, m.Shuffle(Train))
	assert.IsType(t, &Compose{}, m.Transform(Train))
	assert.IsType(t, &Compose{}, m.Transform(Test))
	assert.IsType(t, &Flatten{}, m.Transform(Val))

	var count struct {
		ValSize ValSize `yaml:"val_size"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("val_size: 2"), &count))
	assert.False(t, count.ValSize.IsFraction())
	n, err := count.ValSize.TrainLength(10)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	require.Error(t, yaml.Unmarshal([]byte("val_size: two"), &count))
}

func TestToTensor(t *testing.T) {
	tr := &ToTensor{}
	out, err := tr.Apply([]uint8{0, 255})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, tensors.CopyFlatData[float32](out.(*tensors.Tensor)))

	out, err = tr.Apply(tensors.FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.(*tensors.Tensor).Shape().Dimensions)
	assert.Equal(t, []float32{1, 2, 3, 4}, tensors.CopyFlatData[float32](out.(*tensors.Tensor)))

	gray := image.NewGray(image.Rect(0, 0, 3, 2))
	gray.SetGray(2, 1, color.Gray{Y: 255})
	out, err = tr.Apply(gray)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1}, out.(*tensors.Tensor).Shape().Dimensions)
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 1}, tensors.CopyFlatData[float32](out.(*tensors.Tensor)))

	rgb := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	out, err = tr.Apply(rgb)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3}, out.(*tensors.Tensor).Shape().Dimensions)

	_, err = tr.Apply("not an input")
	require.Error(t, err)
}

func TestReshapeAndFlatten(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 6)
	out, err := (&Reshape{Shape: []int{2, -1}}).Apply(input)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, out.(*tensors.Tensor).Shape().Dimensions)

	_, err = (&Reshape{Shape: []int{4, -1}}).Apply(input)
	require.Error(t, err)
	_, err = (&Reshape{Shape: []int{-1, -1}}).Apply(input)
	require.Error(t, err)

	out, err = (&Flatten{}).Apply(out)
	require.NoError(t, err)
	assert.Equal(t, []int{6}, out.(*tensors.Tensor).Shape().Dimensions)
}

func TestNormalize(t *testing.T) {
	tr, err := ResolveTransform(TransformByName("Normalize", registry.Args{"mean": 1, "std": 2}))
	require.NoError(t, err)
	out, err := tr.Apply(tensors.FromFlatDataAndDimensions([]float32{1, 3, 5}, 3))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 2}, tensors.CopyFlatData[float32](out.(*tensors.Tensor)))

	perChannel := &Normalize{Mean: []float64{0, 10}, Std: []float64{1, 10}}
	out, err = perChannel.Apply(tensors.FromFlatDataAndDimensions([]float32{1, 20, 2, 30}, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 2, 2}, tensors.CopyFlatData[float32](out.(*tensors.Tensor)))

	_, err = perChannel.Apply(tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3))
	require.Error(t, err)
}

func TestFitNormalize(t *testing.T) {
	ds, err := NewInMemory([]any{[]float32{0, 2}, []float32{4, 6}}, nil, &ToTensor{})
	require.NoError(t, err)
	norm, err := FitNormalize(ds, 0)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, norm.Mean[0], 1e-9)
	// Unbiased standard deviation of {0, 2, 4, 6}.
	assert.InDelta(t, 2.581988897, norm.Std[0], 1e-6)
}

func TestImageTransforms(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 8, 6))
	for y := range 6 {
		for x := range 8 {
			gray.SetGray(x, y, color.Gray{Y: 200})
		}
	}
	spec := TransformList(
		TransformByName("Resize", registry.Args{"width": 4, "height": 3}),
		TransformByName("CenterCrop", registry.Args{"size": 2}),
		TransformByName("ToTensor", nil),
	)
	tr, err := ResolveTransform(spec)
	require.NoError(t, err)
	out, err := tr.Apply(gray)
	require.NoError(t, err)
	outT := out.(*tensors.Tensor)
	assert.Equal(t, []int{2, 2, 1}, outT.Shape().Dimensions)
	for _, v := range tensors.CopyFlatData[float32](outT) {
		assert.InDelta(t, 200.0/255.0, v, 0.01)
	}

	rgb := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	out, err = (&Grayscale{}).Apply(rgb)
	require.NoError(t, err)
	assert.IsType(t, &image.Gray{}, out)

	_, err = (&Resize{Width: 2}).Apply(tensors.FromScalar(float32(1)))
	require.Error(t, err)
}
