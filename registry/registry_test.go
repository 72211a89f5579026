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

package registry

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := New[func() int]("counter")
	r.Register("one", func() int { return 1 })
	r.Register("two", func() int { return 2 })
	require.Panics(t, func() { r.Register("one", func() int { return 11 }) })
	require.Panics(t, func() { r.Register("", func() int { return 0 }) })

	fn, err := r.Lookup("two")
	require.NoError(t, err)
	assert.Equal(t, 2, fn())
	assert.True(t, r.Has("one"))
	assert.Equal(t, []string{"one", "two"}, r.Names())

	_, err = r.Lookup("three")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), `counter "three"`)
}

func TestMerge(t *testing.T) {
	merged := Merge(Args{"a": 1, "b": 2}, Args{"b": 3, "c": 4})
	assert.Equal(t, Args{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, Args{}, Merge(nil, nil))
	assert.Nil(t, Args(nil).Clone())
}

func TestArgOr(t *testing.T) {
	args := Args{
		"int":      3,
		"intFloat": 4.0,
		"float":    0.25,
		"name":     "relu",
		"flag":     true,
		"dims":     []any{28, 28.0, 1},
		"bad":      2.5,
		"nil":      nil,
	}
	i, err := ArgOr(args, "int", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, i)

	i, err = ArgOr(args, "intFloat", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, i)

	f, err := ArgOr(args, "int", 0.0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)

	f32, err := ArgOr(args, "float", float32(0))
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), f32)

	s, err := ArgOr(args, "name", "")
	require.NoError(t, err)
	assert.Equal(t, "relu", s)

	b, err := ArgOr(args, "flag", false)
	require.NoError(t, err)
	assert.True(t, b)

	dims, err := ArgOr[[]int](args, "dims", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{28, 28, 1}, dims)

	missing, err := ArgOr(args, "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, missing)

	fromNil, err := ArgOr(args, "nil", 8)
	require.NoError(t, err)
	assert.Equal(t, 8, fromNil)

	_, err = ArgOr(args, "bad", 0)
	require.Error(t, err)
	_, err = ArgOr(args, "name", 0)
	require.Error(t, err)

	require.NoError(t, args.CheckKnown(args.Keys()...))
	require.Error(t, args.CheckKnown("int"))
}
