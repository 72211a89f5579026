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
	"github.com/pkg/errors"
)

// Split of the data: train, validation or test.
type Split int

const (
	Train Split = iota
	Val
	Test
)

// Splits enumerates all splits, in order.
var Splits = []Split{Train, Val, Test}

// String returns the short name of the split, used in metric names: "train", "val" or "test".
func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Val:
		return "val"
	case Test:
		return "test"
	}
	return "unknown"
}

// ParseSplit converts a split name (as returned by Split.String) back to a Split.
func ParseSplit(name string) (Split, error) {
	for _, s := range Splits {
		if s.String() == name {
			return s, nil
		}
	}
	return Train, errors.Errorf("unknown split %q, valid values are \"train\", \"val\" or \"test\"", name)
}

// Stage given to Module.Setup.
type Stage int

const (
	// StageFit prepares the train and validation splits.
	StageFit Stage = iota

	// StageTest prepares the test split.
	StageTest
)

func (s Stage) String() string {
	if s == StageTest {
		return "test"
	}
	return "fit"
}

// PerSplit holds a value shared by all splits, plus optional per-split overrides.
type PerSplit[T any] struct {
	Shared           T
	Train, Val, Test *T
}

// NewPerSplit creates a PerSplit from a shared value and the (optional) overrides.
func NewPerSplit[T any](shared T, train, val, test *T) PerSplit[T] {
	return PerSplit[T]{Shared: shared, Train: train, Val: val, Test: test}
}

// Get returns the override for split, if one is set, or the shared value otherwise.
func (p PerSplit[T]) Get(split Split) T {
	if override := p.Override(split); override != nil {
		return *override
	}
	return p.Shared
}

// Override returns the override for the split, or nil if not set.
func (p PerSplit[T]) Override(split Split) *T {
	switch split {
	case Train:
		return p.Train
	case Val:
		return p.Val
	case Test:
		return p.Test
	}
	return nil
}

// Map converts a PerSplit[T] into a PerSplit[R], resolving every split with fn.
// The result has all overrides set.
func Map[T, R any](p PerSplit[T], fn func(split Split, value T) (R, error)) (PerSplit[R], error) {
	var result PerSplit[R]
	for _, split := range Splits {
		value, err := fn(split, p.Get(split))
		if err != nil {
			return result, errors.WithMessagef(err, "split %q", split)
		}
		switch split {
		case Train:
			result.Train = &value
		case Val:
			result.Val = &value
		case Test:
			result.Test = &value
		}
	}
	return result, nil
}
