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
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type valSizeKind int

const (
	valSizeNone valSizeKind = iota
	valSizeCount
	valSizeFraction
)

// ValSize is the size of the validation split carved out of the training dataset: either
// an absolute number of examples or a fraction (< 1) of the training dataset.
//
// The zero value (NoValSize) means no validation split is carved out.
type ValSize struct {
	kind     valSizeKind
	count    int
	fraction float64
}

// NoValSize disables the train/validation split.
var NoValSize = ValSize{}

// ValCount is a validation split of n examples.
func ValCount(n int) ValSize { return ValSize{kind: valSizeCount, count: n} }

// ValFraction is a validation split of the fraction f of the training dataset. f must be < 1.
func ValFraction(f float64) ValSize { return ValSize{kind: valSizeFraction, fraction: f} }

// Validate returns an error if the fraction is not in [0, 1) or the count is negative.
func (v ValSize) Validate() error {
	switch v.kind {
	case valSizeCount:
		if v.count < 0 {
			return errors.Errorf("invalid validation size %d: count must be non-negative", v.count)
		}
	case valSizeFraction:
		if !(v.fraction >= 0 && v.fraction < 1) {
			return errors.Errorf("invalid validation size %g: a fraction must be in the range [0, 1), "+
				"use an integer for an absolute number of examples", v.fraction)
		}
	}
	return nil
}

// IsSet returns whether a non-zero validation size is configured.
func (v ValSize) IsSet() bool {
	switch v.kind {
	case valSizeCount:
		return v.count != 0
	case valSizeFraction:
		return v.fraction != 0
	}
	return false
}

// IsFraction returns whether the size is given as a fraction.
func (v ValSize) IsFraction() bool { return v.kind == valSizeFraction }

// TrainLength returns the number of examples kept for training out of a dataset with n examples:
// n - count, or round(n * (1 - fraction)).
func (v ValSize) TrainLength(n int) (int, error) {
	var trainLen int
	switch v.kind {
	case valSizeNone:
		return n, nil
	case valSizeCount:
		trainLen = n - v.count
	case valSizeFraction:
		trainLen = int(math.Round(float64(n) * (1 - v.fraction)))
	}
	if trainLen < 0 {
		return 0, errors.Errorf("validation size %s is larger than the dataset (%d examples)", v, n)
	}
	return trainLen, nil
}

func (v ValSize) String() string {
	switch v.kind {
	case valSizeCount:
		return fmt.Sprintf("%d", v.count)
	case valSizeFraction:
		return fmt.Sprintf("%g", v.fraction)
	}
	return "none"
}

// UnmarshalYAML implements yaml.Unmarshaler: integers are counts, floats are fractions and
// null is NoValSize.
func (v *ValSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("val_size (line %d) must be an integer, a float or null", node.Line)
	}
	switch node.ShortTag() {
	case "!!null":
		*v = NoValSize
	case "!!int":
		var n int
		if err := node.Decode(&n); err != nil {
			return errors.Wrapf(err, "val_size (line %d)", node.Line)
		}
		*v = ValCount(n)
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return errors.Wrapf(err, "val_size (line %d)", node.Line)
		}
		*v = ValFraction(f)
	default:
		return errors.Errorf("val_size (line %d) must be an integer, a float or null, got %q", node.Line, node.Value)
	}
	return nil
}
