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
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Args are the keyword arguments given to a constructor, usually decoded from a YAML
// configuration. Values are then of the types decoded by YAML: int, float64, string, bool,
// []any and map[string]any.
type Args map[string]any

// Merge returns a new Args with the values of base overwritten by the values of override.
// Either can be nil.
func Merge(base, override Args) Args {
	merged := make(Args, len(base)+len(override))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range override {
		merged[key] = value
	}
	return merged
}

// Clone returns a shallow copy of args, or nil if args is nil.
func (args Args) Clone() Args {
	if args == nil {
		return nil
	}
	return Merge(nil, args)
}

// Has returns whether key is set.
func (args Args) Has(key string) bool {
	_, found := args[key]
	return found
}

// Keys returns the keys set, sorted.
func (args Args) Keys() []string {
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// String implements fmt.Stringer, with keys sorted.
func (args Args) String() string {
	s := "{"
	for ii, key := range args.Keys() {
		if ii > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s: %v", key, args[key])
	}
	return s + "}"
}

// CheckKnown returns an error if args has a key not in known. Constructors use it to
// catch typos in configuration files.
func (args Args) CheckKnown(known ...string) error {
	knownSet := make(map[string]bool, len(known))
	for _, key := range known {
		knownSet[key] = true
	}
	for _, key := range args.Keys() {
		if !knownSet[key] {
			return errors.Errorf("unknown argument %q (accepted: %v)", key, known)
		}
	}
	return nil
}

// ArgOr returns args[key] converted to T, or defaultValue if key is not set (or set to nil).
//
// Numeric values are converted between integer and float types, as long as no precision is lost
// (e.g.: 2.0 can be read as an int, 2.5 cannot). Lists ([]any) are converted element-wise for
// []int, []float64 and []string.
func ArgOr[T any](args Args, key string, defaultValue T) (T, error) {
	raw, found := args[key]
	if !found || raw == nil {
		return defaultValue, nil
	}
	value, err := convert[T](raw)
	if err != nil {
		return defaultValue, errors.WithMessagef(err, "argument %q", key)
	}
	return value, nil
}

func convert[T any](raw any) (T, error) {
	var zero T
	if value, ok := raw.(T); ok {
		return value, nil
	}
	var result any
	var ok bool
	switch any(zero).(type) {
	case int:
		result, ok = toNumber[int](raw)
	case int64:
		result, ok = toNumber[int64](raw)
	case float64:
		result, ok = toNumber[float64](raw)
	case float32:
		result, ok = toNumber[float32](raw)
	case []int:
		result, ok = toSlice[int](raw, toNumber[int])
	case []float64:
		result, ok = toSlice[float64](raw, toNumber[float64])
	case []string:
		result, ok = toSlice[string](raw, func(v any) (string, bool) {
			s, ok := v.(string)
			return s, ok
		})
	}
	if !ok {
		return zero, errors.Errorf("cannot convert %v (%T) to %T", raw, raw, zero)
	}
	return result.(T), nil
}

type number interface {
	constraints.Integer | constraints.Float
}

func toNumber[T number](raw any) (T, bool) {
	var f float64
	switch v := raw.(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	default:
		return 0, false
	}
	converted := T(f)
	half := 0.5
	isInteger := T(half) == 0
	if isInteger && (float64(converted) != f || math.IsNaN(f)) {
		// Lost precision: e.g. 2.5 read as an int.
		return 0, false
	}
	return converted, true
}

func toSlice[T any](raw any, convertElem func(any) (T, bool)) ([]T, bool) {
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	result := make([]T, len(list))
	for ii, elem := range list {
		if result[ii], ok = convertElem(elem); !ok {
			return nil, false
		}
	}
	return result, true
}
