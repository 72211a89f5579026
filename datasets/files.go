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

// Package datasets holds helpers shared by the dataset implementations in its sub-packages.
//
// Each sub-package registers its datasets in the datamodule registry when imported. To make
// all of them available to configuration files, import the sub-packages for side effects:
//
//	import (
//		_ "github.com/gomlx/made/datasets/mnist"
//		_ "github.com/gomlx/made/datasets/npz"
//		_ "github.com/gomlx/made/datasets/synthetic"
//		_ "github.com/gomlx/made/datasets/tabular"
//	)
package datasets

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Open opens filePath for reading, decompressing it according to its suffix: ".gz" for gzip
// and ".xz" for xz. A leading "~" is replaced by the user's home directory.
func Open(filePath string) (io.ReadCloser, error) {
	filePath = data.ReplaceTildeInDir(filePath)
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", filePath)
	}
	switch {
	case strings.HasSuffix(filePath, ".gz"):
		r, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "reading gzip file %q", filePath)
		}
		return &readCloser{Reader: r, closers: []io.Closer{r, f}}, nil
	case strings.HasSuffix(filePath, ".xz"):
		r, err := xz.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "reading xz file %q", filePath)
		}
		return &readCloser{Reader: r, closers: []io.Closer{f}}, nil
	}
	return f, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var firstErr error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FindFile returns the first of the candidate file names that exists in dir, or an error
// listing all candidates.
func FindFile(dir string, candidates ...string) (string, error) {
	dir = data.ReplaceTildeInDir(dir)
	for _, name := range candidates {
		filePath := filepath.Join(dir, name)
		if data.FileExists(filePath) {
			return filePath, nil
		}
	}
	return "", errors.Errorf("none of %v found in %q", candidates, dir)
}
