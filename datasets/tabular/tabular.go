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

// Package tabular provides datasets of numeric features read from CSV files, registered as "csv".
//
// Each row is one example: its input is a Float32 tensor shaped [num_features], with the
// values of the feature columns.
//
// Arguments:
//
//   - path: the CSV file, optionally compressed (".gz" or ".xz"). Required.
//   - train_path, test_path: override path for the train or test split.
//   - columns: the feature columns. Default all columns except the label.
//   - label: the label column, optional. Integer columns give int labels, others float32.
//   - header: whether the first line holds the column names. Default true. Without a
//     header, the columns are named "0", "1", ...
//   - limit: if > 0, only the first limit rows are used.
package tabular

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/datasets"
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func init() {
	datamodule.RegisterDataset("csv", func(opts datamodule.DatasetOptions) (datamodule.Dataset, error) {
		return New(opts)
	})
}

// Dataset of rows read from a CSV file, held in memory. It is safe for concurrent use.
type Dataset struct {
	columns     []string
	features    []float32
	numFeatures int
	labels      []any
	numRows     int
	transform   datamodule.Transform
}

var _ datamodule.Dataset = (*Dataset)(nil)

// New reads the CSV file configured in opts.Args.
func New(opts datamodule.DatasetOptions) (*Dataset, error) {
	args := opts.Args
	if err := args.CheckKnown("path", "train_path", "test_path", "columns", "label", "header", "limit"); err != nil {
		return nil, errors.WithMessage(err, "csv")
	}
	path, err := registry.ArgOr(args, "path", "")
	if err != nil {
		return nil, err
	}
	splitPathKey := "test_path"
	if opts.Train {
		splitPathKey = "train_path"
	}
	if path, err = registry.ArgOr(args, splitPathKey, path); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.Errorf("csv: argument \"path\" (or %q) is required", splitPathKey)
	}
	columns, err := registry.ArgOr[[]string](args, "columns", nil)
	if err != nil {
		return nil, err
	}
	label, err := registry.ArgOr(args, "label", "")
	if err != nil {
		return nil, err
	}
	header, err := registry.ArgOr(args, "header", true)
	if err != nil {
		return nil, err
	}
	limit, err := registry.ArgOr(args, "limit", 0)
	if err != nil {
		return nil, err
	}

	df, err := LoadDataFrame(path, header)
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < df.Nrow() {
		indexes := make([]int, limit)
		for ii := range indexes {
			indexes[ii] = ii
		}
		df = df.Subset(indexes)
	}
	ds, err := FromDataFrame(df, columns, label)
	if err != nil {
		return nil, errors.WithMessagef(err, "csv: %q", path)
	}
	ds.transform = opts.Transform
	klog.V(1).Infof("csv: loaded %s rows with %d features from %q", humanize.Comma(int64(ds.numRows)), ds.numFeatures, path)
	return ds, nil
}

// LoadDataFrame reads a CSV file, decompressing it if needed (see datasets.Open).
func LoadDataFrame(path string, header bool) (dataframe.DataFrame, error) {
	r, err := datasets.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, errors.WithMessage(err, "csv")
	}
	defer func() { _ = r.Close() }()
	df := dataframe.ReadCSV(r, dataframe.HasHeader(header))
	if df.Err != nil {
		return df, errors.Wrapf(df.Err, "csv: parsing %q", path)
	}
	if !header {
		names := make([]string, df.Ncol())
		for ii := range names {
			names[ii] = strconv.Itoa(ii)
		}
		if err := df.SetNames(names...); err != nil {
			return df, errors.Wrapf(err, "csv: naming columns of %q", path)
		}
	}
	return df, nil
}

// FromDataFrame creates a Dataset (without transform) from the feature columns and optional
// label column of df. If columns is empty, all columns except label are used.
func FromDataFrame(df dataframe.DataFrame, columns []string, label string) (*Dataset, error) {
	if len(columns) == 0 {
		for _, name := range df.Names() {
			if name != label {
				columns = append(columns, name)
			}
		}
	}
	if len(columns) == 0 {
		return nil, errors.New("no feature columns")
	}
	ds := &Dataset{
		columns:     columns,
		numFeatures: len(columns),
		numRows:     df.Nrow(),
	}
	ds.features = make([]float32, ds.numRows*ds.numFeatures)
	for colIdx, name := range columns {
		col := df.Col(name)
		if col.Err != nil {
			return nil, errors.Wrapf(col.Err, "feature column %q", name)
		}
		if col.Type() == series.String {
			return nil, errors.Errorf("feature column %q is not numeric", name)
		}
		for row, v := range col.Float() {
			ds.features[row*ds.numFeatures+colIdx] = float32(v)
		}
	}
	if label != "" {
		col := df.Col(label)
		if col.Err != nil {
			return nil, errors.Wrapf(col.Err, "label column %q", label)
		}
		ds.labels = make([]any, ds.numRows)
		switch col.Type() {
		case series.Int, series.Bool:
			values, err := col.Int()
			if err != nil {
				return nil, errors.Wrapf(err, "label column %q", label)
			}
			for row, v := range values {
				ds.labels[row] = v
			}
		case series.Float:
			for row, v := range col.Float() {
				ds.labels[row] = float32(v)
			}
		default:
			return nil, errors.Errorf("label column %q is not numeric", label)
		}
	}
	return ds, nil
}

// Columns returns the names of the feature columns, in the order of the input tensor.
func (ds *Dataset) Columns() []string { return ds.columns }

// Len implements datamodule.Dataset.
func (ds *Dataset) Len() int { return ds.numRows }

// Example implements datamodule.Dataset.
func (ds *Dataset) Example(index int) (datamodule.Example, error) {
	if index < 0 || index >= ds.numRows {
		return datamodule.Example{}, errors.Errorf("csv: index %d out of range (%d rows)", index, ds.numRows)
	}
	values := make([]float32, ds.numFeatures)
	copy(values, ds.features[index*ds.numFeatures:])
	ex := datamodule.Example{Input: tensors.FromFlatDataAndDimensions(values, ds.numFeatures)}
	if ds.labels != nil {
		ex.Label = ds.labels[index]
	}
	return datamodule.ApplyTransform(ds.transform, ex)
}
