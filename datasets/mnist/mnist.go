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

// Package mnist provides the MNIST database of handwritten digits as a datamodule.Dataset.
//
// It registers two datasets:
//
//   - "mnist": gray images 28x28 with labels 0 to 9.
//   - "binarized_mnist": the same, with pixel values binarized at 0.5 after the configured
//     transform (which must produce a tensor). It is the usual benchmark for density estimators.
//
// Arguments:
//
//   - data_dir: where the IDX files are (or are downloaded to). Default "~/work/mnist".
//   - download: whether to download missing files. Default false.
//   - limit: if > 0, only the first limit examples are used.
package mnist

import (
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"net/url"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/datasets"
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DefaultDataDir is used when no data_dir argument is given.
	DefaultDataDir = "~/work/mnist"

	downloadURL = "https://storage.googleapis.com/cvdf-datasets/mnist"

	trainImagesFile = "train-images-idx3-ubyte"
	trainLabelsFile = "train-labels-idx1-ubyte"
	testImagesFile  = "t10k-images-idx3-ubyte"
	testLabelsFile  = "t10k-labels-idx1-ubyte"

	// Width and Height of the images.
	Width  = 28
	Height = 28

	// NumClasses of the labels.
	NumClasses = 10

	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

func init() {
	datamodule.RegisterDataset("mnist", func(opts datamodule.DatasetOptions) (datamodule.Dataset, error) {
		return New(opts)
	})
	datamodule.RegisterDataset("binarized_mnist", func(opts datamodule.DatasetOptions) (datamodule.Dataset, error) {
		if opts.Transform == nil {
			opts.Transform = &datamodule.ToTensor{}
		}
		opts.Transform = &datamodule.Compose{Transforms: []datamodule.Transform{opts.Transform, &datamodule.Binarize{Threshold: 0.5}}}
		return New(opts)
	})
}

// Image is one MNIST digit: 0 is the background and 255 the digit color.
// It implements image.Image.
type Image [Width * Height]byte

var _ image.Image = (*Image)(nil)

// ColorModel implements image.Image.
func (img *Image) ColorModel() color.Model { return color.GrayModel }

// Bounds implements image.Image.
func (img *Image) Bounds() image.Rectangle { return image.Rect(0, 0, Width, Height) }

// At implements image.Image.
func (img *Image) At(x, y int) color.Color { return color.Gray{Y: img[y*Width+x]} }

// Download the MNIST IDX files (gzip compressed) to dataDir, if they are not there yet.
func Download(dataDir string) error {
	dataDir = data.ReplaceTildeInDir(dataDir)
	for _, name := range []string{trainImagesFile, trainLabelsFile, testImagesFile, testLabelsFile} {
		file := name + ".gz"
		fileURL, err := url.JoinPath(downloadURL, file)
		if err != nil {
			return errors.Wrapf(err, "mnist: building URL for %q", file)
		}
		if err := data.DownloadIfMissing(fileURL, filepath.Join(dataDir, file), ""); err != nil {
			return errors.WithMessagef(err, "mnist: downloading %q", fileURL)
		}
	}
	return nil
}

// Dataset of MNIST images. Example returns the *Image as input (before the transform) and the
// digit as an int label. It is safe for concurrent use.
type Dataset struct {
	images    []*Image
	labels    []uint8
	transform datamodule.Transform
}

var _ datamodule.Dataset = (*Dataset)(nil)

// New loads the train (opts.Train) or test partition of MNIST.
func New(opts datamodule.DatasetOptions) (*Dataset, error) {
	if err := opts.Args.CheckKnown("data_dir", "download", "limit"); err != nil {
		return nil, errors.WithMessage(err, "mnist")
	}
	dataDir, err := registry.ArgOr(opts.Args, "data_dir", DefaultDataDir)
	if err != nil {
		return nil, err
	}
	download, err := registry.ArgOr(opts.Args, "download", false)
	if err != nil {
		return nil, err
	}
	limit, err := registry.ArgOr(opts.Args, "limit", 0)
	if err != nil {
		return nil, err
	}
	if download {
		if err := Download(dataDir); err != nil {
			return nil, err
		}
	}
	imagesFile, labelsFile := trainImagesFile, trainLabelsFile
	if !opts.Train {
		imagesFile, labelsFile = testImagesFile, testLabelsFile
	}
	ds := &Dataset{transform: opts.Transform}
	if ds.images, err = LoadImages(dataDir, imagesFile, limit); err != nil {
		return nil, err
	}
	if ds.labels, err = LoadLabels(dataDir, labelsFile, limit); err != nil {
		return nil, err
	}
	if len(ds.images) != len(ds.labels) {
		return nil, errors.Errorf("mnist: %d images but %d labels in %q", len(ds.images), len(ds.labels), dataDir)
	}
	klog.V(1).Infof("mnist: loaded %s examples from %s (train=%v)", humanize.Comma(int64(len(ds.images))), imagesFile, opts.Train)
	return ds, nil
}

// Len implements datamodule.Dataset.
func (ds *Dataset) Len() int { return len(ds.images) }

// Image returns the raw image at index.
func (ds *Dataset) Image(index int) *Image { return ds.images[index] }

// Example implements datamodule.Dataset.
func (ds *Dataset) Example(index int) (datamodule.Example, error) {
	if index < 0 || index >= len(ds.images) {
		return datamodule.Example{}, errors.Errorf("mnist: index %d out of range (%d examples)", index, len(ds.images))
	}
	ex := datamodule.Example{Input: ds.images[index], Label: int(ds.labels[index])}
	return datamodule.ApplyTransform(ds.transform, ex)
}

// openIDX opens the IDX file name in dataDir, either uncompressed or with a ".gz" or ".xz" suffix.
func openIDX(dataDir, name string) (io.ReadCloser, string, error) {
	filePath, err := datasets.FindFile(dataDir, name+".gz", name+".xz", name)
	if err != nil {
		return nil, "", errors.WithMessage(err, "mnist: missing file, use the download argument to fetch it")
	}
	r, err := datasets.Open(filePath)
	return r, filePath, err
}

// LoadImages reads the IDX images file name from dataDir. If limit > 0 at most limit images are read.
func LoadImages(dataDir, name string, limit int) ([]*Image, error) {
	r, filePath, err := openIDX(dataDir, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var header struct {
		Magic, NumImages, Height, Width int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "mnist: reading header of %q", filePath)
	}
	if header.Magic != imageMagic || header.Width != Width || header.Height != Height {
		return nil, errors.Errorf("mnist: invalid images file %q: magic=0x%x, %dx%d images",
			filePath, header.Magic, header.Width, header.Height)
	}
	n := int(header.NumImages)
	if limit > 0 && limit < n {
		n = limit
	}
	images := make([]*Image, n)
	for ii := range images {
		img := &Image{}
		if _, err := io.ReadFull(r, img[:]); err != nil {
			return nil, errors.Wrapf(err, "mnist: reading image #%d of %q", ii, filePath)
		}
		images[ii] = img
	}
	return images, nil
}

// LoadLabels reads the IDX labels file name from dataDir. If limit > 0 at most limit labels are read.
func LoadLabels(dataDir, name string, limit int) ([]uint8, error) {
	r, filePath, err := openIDX(dataDir, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var header struct {
		Magic, NumLabels int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "mnist: reading header of %q", filePath)
	}
	if header.Magic != labelMagic {
		return nil, errors.Errorf("mnist: invalid labels file %q: magic=0x%x", filePath, header.Magic)
	}
	n := int(header.NumLabels)
	if limit > 0 && limit < n {
		n = limit
	}
	labels := make([]uint8, n)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, errors.Wrapf(err, "mnist: reading labels of %q", filePath)
	}
	for ii, label := range labels {
		if label >= NumClasses {
			return nil, errors.Errorf("mnist: invalid label %d at #%d of %q", label, ii, filePath)
		}
	}
	return labels, nil
}
