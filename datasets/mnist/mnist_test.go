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

package mnist

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
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

// writeIDX writes numImages fake images (pixel (ii, ii) set to 200+ii, for the ii-th image)
// and labels ii%10, compressed according to the suffix.
func writeIDX(t *testing.T, dir, imagesName, labelsName, suffix string, numImages int) {
	var images, labels bytes.Buffer
	require.NoError(t, binary.Write(&images, binary.BigEndian, []int32{imageMagic, int32(numImages), Height, Width}))
	require.NoError(t, binary.Write(&labels, binary.BigEndian, []int32{labelMagic, int32(numImages)}))
	for ii := range numImages {
		var img Image
		img[ii*Width+ii] = byte(200 + ii)
		images.Write(img[:])
		labels.WriteByte(byte(ii % NumClasses))
	}
	write := func(name string, content []byte) {
		f, err := os.Create(filepath.Join(dir, name+suffix))
		require.NoError(t, err)
		var w io.WriteCloser = f
		switch suffix {
		case ".gz":
			w = gzip.NewWriter(f)
		case ".xz":
			w, err = xz.NewWriter(f)
			require.NoError(t, err)
		}
		_, err = w.Write(content)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		if w != io.WriteCloser(f) {
			require.NoError(t, f.Close())
		}
	}
	write(imagesName, images.Bytes())
	write(labelsName, labels.Bytes())
}

func TestDataset(t *testing.T) {
	dir := t.TempDir()
	writeIDX(t, dir, trainImagesFile, trainLabelsFile, ".gz", 5)
	writeIDX(t, dir, testImagesFile, testLabelsFile, ".xz", 3)

	train, err := datamodule.ResolveDataset(datamodule.DatasetNamed("mnist"), datamodule.DatasetOptions{
		Train: true,
		Args:  registry.Args{"data_dir": dir},
	})
	require.NoError(t, err)
	require.Equal(t, 5, train.Len())
	ex, err := train.Example(3)
	require.NoError(t, err)
	assert.Equal(t, 3, ex.Label)
	input := ex.Input.(*tensors.Tensor)
	assert.Equal(t, []int{Height, Width, 1}, input.Shape().Dimensions)
	flat := tensors.CopyFlatData[float32](input)
	assert.InDelta(t, 203.0/255.0, flat[3*Width+3], 1e-5)
	assert.Equal(t, float32(0), flat[0])

	test, err := New(datamodule.DatasetOptions{Args: registry.Args{"data_dir": dir, "limit": 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, test.Len())
	assert.Equal(t, byte(201), test.Image(1)[Width+1])
	ex, err = test.Example(1)
	require.NoError(t, err)
	assert.Same(t, test.Image(1), ex.Input, "no transform configured")

	_, err = test.Example(2)
	require.Error(t, err)
}

func TestBinarized(t *testing.T) {
	dir := t.TempDir()
	writeIDX(t, dir, testImagesFile, testLabelsFile, "", 2)
	ds, err := datamodule.ResolveDataset(datamodule.DatasetNamed("binarized_mnist"), datamodule.DatasetOptions{
		Args: registry.Args{"data_dir": dir},
	})
	require.NoError(t, err)
	ex, err := ds.Example(1)
	require.NoError(t, err)
	flat := tensors.CopyFlatData[float32](ex.Input.(*tensors.Tensor))
	sum := float32(0)
	for _, v := range flat {
		assert.True(t, v == 0 || v == 1)
		sum += v
	}
	assert.Equal(t, float32(1), sum)
}

func TestMissingFiles(t *testing.T) {
	_, err := New(datamodule.DatasetOptions{Train: true, Args: registry.Args{"data_dir": t.TempDir()}})
	require.Error(t, err)

	_, err = New(datamodule.DatasetOptions{Args: registry.Args{"dir": "/tmp"}})
	require.Error(t, err)
}
