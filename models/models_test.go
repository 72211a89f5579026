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

package models_test

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/made/models"
	_ "github.com/gomlx/made/models/made"
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constantModel struct {
	numParams int
}

func (m constantModel) NumParams() int { return m.numParams }

func (m constantModel) Params(_ *context.Context, x *Node) *Node {
	return Reshape(ZerosLike(x), -1, 1, x.Shape().Dimensions[1])
}

func init() {
	models.Register("test.constant", func(args registry.Args) (models.Model, error) {
		numParams, err := registry.ArgOr(args, "num_params", 1)
		if err != nil {
			return nil, err
		}
		if numParams <= 0 {
			return nil, errors.Errorf("num_params must be positive, got %d", numParams)
		}
		return constantModel{numParams: numParams}, nil
	})
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, models.Names(), "made.MADE")
	assert.Contains(t, models.Names(), "test.constant")

	model, err := models.New("test.constant", registry.Args{"num_params": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, model.NumParams())

	_, err = models.New("test.constant", registry.Args{"num_params": 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `creating model "test.constant"`)

	_, err = models.New("made.Unknown", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrNotFound))
}
