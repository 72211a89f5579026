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

package tabular

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const content = "a,b,label\n1,2,0\n3,4.5,1\n5,6,1\n"

func TestDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ds, err := datamodule.ResolveDataset(datamodule.DatasetNamed("csv"), datamodule.DatasetOptions{
		Train: true,
		Args:  registry.Args{"path": path, "label": "label"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, []string{"a", "b"}, ds.(*Dataset).Columns())
	ex, err := ds.Example(1)
	require.NoError(t, err)
	assert.Equal(t, 1, ex.Label)
	assert.Equal(t, []float32{3, 4.5}, tensors.CopyFlatData[float32](ex.Input.(*tensors.Tensor)))

	// Selected columns, no label, limited rows.
	ds2, err := New(datamodule.DatasetOptions{Args: registry.Args{
		"path": path, "columns": []any{"b"}, "limit": 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, ds2.Len())
	ex, err = ds2.Example(0)
	require.NoError(t, err)
	assert.Nil(t, ex.Label)
	assert.Equal(t, []float32{2}, tensors.CopyFlatData[float32](ex.Input.(*tensors.Tensor)))
}

func TestCompressedWithoutHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv.xz")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := xz.NewWriter(f)
	require.NoError(t, err)
	_, err = w.Write([]byte("1,2,0.5\n3,4,1.5\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	ds, err := New(datamodule.DatasetOptions{Args: registry.Args{"test_path": path, "header": false, "label": "2"}})
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	ex, err := ds.Example(1)
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), ex.Label)
	assert.Equal(t, []float32{3, 4}, tensors.CopyFlatData[float32](ex.Input.(*tensors.Tensor)))
}

func TestErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,x\nfoo,1\n"), 0o644))

	_, err := New(datamodule.DatasetOptions{Args: registry.Args{}})
	require.Error(t, err)
	_, err = New(datamodule.DatasetOptions{Args: registry.Args{"path": path}})
	require.Error(t, err, "string column used as feature")
	_, err = New(datamodule.DatasetOptions{Args: registry.Args{"path": path, "columns": []any{"x"}, "label": "missing"}})
	require.Error(t, err)
	_, err = New(datamodule.DatasetOptions{Args: registry.Args{"path": path, "delimiter": ";"}})
	require.Error(t, err)
}
