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
	"io"
	"sort"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceDataset returns a labeled dataset with inputs [i, 10*i] and label i.
func sequenceDataset(t *testing.T, size int) *InMemory {
	inputs := make([]any, size)
	labels := make([]any, size)
	for ii := range size {
		inputs[ii] = []float32{float32(ii), float32(10 * ii)}
		labels[ii] = ii
	}
	ds, err := NewInMemory(inputs, labels, &ToTensor{})
	require.NoError(t, err)
	return ds
}

// epochLabels reads a full epoch and returns the labels of each batch.
func epochLabels(t *testing.T, loader *Loader) [][]int32 {
	var batches [][]int32
	for {
		spec, inputs, labels, err := loader.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Nil(t, spec)
		require.Len(t, inputs, 1)
		require.Len(t, labels, 1)
		batchLabels := tensors.CopyFlatData[int32](labels[0])
		assert.Equal(t, []int{len(batchLabels), 2}, inputs[0].Shape().Dimensions)
		flat := tensors.CopyFlatData[float32](inputs[0])
		for ii, label := range batchLabels {
			assert.Equal(t, float32(label), flat[2*ii])
			assert.Equal(t, float32(10*label), flat[2*ii+1])
		}
		batches = append(batches, batchLabels)
	}
	return batches
}

func TestLoaderSequential(t *testing.T) {
	loader, err := NewLoader(sequenceDataset(t, 10), WithBatchSize(4), WithName("seq"))
	require.NoError(t, err)
	assert.Equal(t, "seq", loader.Name())
	assert.Equal(t, 3, loader.Len())

	want := [][]int32{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}}
	assert.Equal(t, want, epochLabels(t, loader))

	// Without Reset the epoch stays exhausted.
	_, _, _, err = loader.Yield()
	assert.Equal(t, io.EOF, err)

	loader.Reset()
	assert.Equal(t, 1, loader.Epoch())
	assert.Equal(t, want, epochLabels(t, loader))
}

func TestLoaderDropLast(t *testing.T) {
	loader, err := NewLoader(sequenceDataset(t, 10), WithBatchSize(4), WithDropLast(true))
	require.NoError(t, err)
	assert.Equal(t, 2, loader.Len())
	assert.Len(t, epochLabels(t, loader), 2)
}

func flatten(batches [][]int32) []int {
	var all []int
	for _, batch := range batches {
		for _, label := range batch {
			all = append(all, int(label))
		}
	}
	return all
}

func TestLoaderShuffle(t *testing.T) {
	newLoader := func(seed int64) *Loader {
		loader, err := NewLoader(sequenceDataset(t, 32), WithBatchSize(5), WithShuffle(true), WithSeed(seed))
		require.NoError(t, err)
		return loader
	}
	l1, l2 := newLoader(3), newLoader(3)
	epoch1 := flatten(epochLabels(t, l1))
	assert.Equal(t, epoch1, flatten(epochLabels(t, l2)))

	l1.Reset()
	epoch2 := flatten(epochLabels(t, l1))
	assert.NotEqual(t, epoch1, epoch2, "each epoch should use a different permutation")

	for _, epoch := range [][]int{epoch1, epoch2} {
		sort.Ints(epoch)
		for ii, label := range epoch {
			require.Equal(t, ii, label)
		}
	}
}

func TestLoaderWorkers(t *testing.T) {
	inline, err := NewLoader(sequenceDataset(t, 23), WithBatchSize(4), WithShuffle(true), WithSeed(1))
	require.NoError(t, err)
	parallel, err := NewLoader(sequenceDataset(t, 23), WithBatchSize(4), WithShuffle(true), WithSeed(1),
		WithNumWorkers(3), WithPrefetch(1))
	require.NoError(t, err)
	assert.Equal(t, 3, parallel.NumWorkers())
	assert.Equal(t, epochLabels(t, inline), epochLabels(t, parallel))

	// Reset in the middle of an epoch stops the producer.
	parallel.Reset()
	_, _, _, err = parallel.Yield()
	require.NoError(t, err)
	parallel.Reset()
	assert.Len(t, epochLabels(t, parallel), 6)

	all, err := NewLoader(sequenceDataset(t, 4), WithNumWorkers(-1))
	require.NoError(t, err)
	assert.Greater(t, all.NumWorkers(), 0)

	_, err = NewLoader(sequenceDataset(t, 4), WithNumWorkers(-2))
	require.Error(t, err)
}

func TestLoaderErrors(t *testing.T) {
	// Inputs of different lengths cannot be stacked.
	ds, err := NewInMemory([]any{[]float32{1}, []float32{1, 2}}, nil, &ToTensor{})
	require.NoError(t, err)
	for _, workers := range []int{0, 2} {
		loader, err := NewLoader(ds, WithBatchSize(2), WithNumWorkers(workers))
		require.NoError(t, err)
		_, _, _, err = loader.Yield()
		require.Error(t, err)
		loader.Reset()
	}
}

func TestCollate(t *testing.T) {
	examples := []Example{
		{Input: tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2), Label: 0.5},
		{Input: tensors.FromFlatDataAndDimensions([]float32{3, 4}, 2), Label: float32(1.5)},
	}
	inputs, labels, err := Collate(examples)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, tensors.CopyFlatData[float32](inputs[0]))
	require.Len(t, labels, 1)
	assert.Equal(t, dtypes.Float32, labels[0].DType())
	assert.Equal(t, []float32{0.5, 1.5}, tensors.CopyFlatData[float32](labels[0]))

	// Unlabeled.
	examples[0].Label, examples[1].Label = nil, nil
	_, labels, err = Collate(examples)
	require.NoError(t, err)
	assert.Empty(t, labels)

	// Mixed.
	examples[1].Label = 3
	_, _, err = Collate(examples)
	require.Error(t, err)

	// Not a tensor.
	_, _, err = Collate([]Example{{Input: []float32{1}}})
	require.Error(t, err)
}
