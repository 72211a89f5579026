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

package synthetic

import (
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	a := Generate(200, 8, 0.5, 1)
	b := Generate(200, 8, 0.5, 1)
	assert.Equal(t, a, b)

	stays, total := 0, 0
	for _, ex := range a {
		x := ex.([]float32)
		require.Len(t, x, 8)
		for jj, v := range x {
			require.True(t, v == 0 || v == 1)
			if jj > 0 {
				total++
				if v == x[jj-1] {
					stays++
				}
			}
		}
	}
	assert.InDelta(t, StayProbability, float64(stays)/float64(total), 0.05)

	allOnes := Generate(10, 1, 1.0, 3)
	for _, ex := range allOnes {
		assert.Equal(t, []float32{1}, ex.([]float32))
	}
}

func TestRegistered(t *testing.T) {
	args := registry.Args{"size": 5, "features": 4, "seed": 7}
	train, err := datamodule.ResolveDataset(datamodule.DatasetNamed("synthetic"), datamodule.DatasetOptions{Train: true, Args: args})
	require.NoError(t, err)
	require.Equal(t, 5, train.Len())
	ex, err := train.Example(0)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, ex.Input.(*tensors.Tensor).Shape().Dimensions)

	test, err := New(datamodule.DatasetOptions{Args: registry.Args{"size": 50, "features": 4, "seed": 7}})
	require.NoError(t, err)
	trainAgain, err := New(datamodule.DatasetOptions{Train: true, Args: registry.Args{"size": 50, "features": 4, "seed": 7}})
	require.NoError(t, err)
	different := false
	for ii := range 50 {
		a, err := test.Example(ii)
		require.NoError(t, err)
		b, err := trainAgain.Example(ii)
		require.NoError(t, err)
		different = different || !assert.ObjectsAreEqual(a.Input, b.Input)
	}
	assert.True(t, different, "train and test splits should differ")

	_, err = New(datamodule.DatasetOptions{Args: registry.Args{"p": 2.0}})
	require.Error(t, err)
}
