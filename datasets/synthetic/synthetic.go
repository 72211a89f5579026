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

// Package synthetic provides a small generated binary dataset, registered as "synthetic".
//
// Each example is a vector of binary features drawn from a Markov chain: the first feature is 1
// with probability p, and every other feature copies the previous one with probability 0.9.
// Such data has a known autoregressive structure, which makes it handy to smoke-test density
// estimators.
//
// Arguments:
//
//   - size: number of examples. Default 1000.
//   - features: number of binary features. Default 16.
//   - p: probability of the first feature being 1. Default 0.5.
//   - seed: random seed. The test split uses a different stream of the same seed.
package synthetic

import (
	"math/rand"

	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
)

// StayProbability is the probability that a feature has the same value as the previous one.
const StayProbability = 0.9

func init() {
	datamodule.RegisterDataset("synthetic", func(opts datamodule.DatasetOptions) (datamodule.Dataset, error) {
		return New(opts)
	})
}

// New generates the dataset configured in opts.Args. The inputs are []float32 before the transform.
func New(opts datamodule.DatasetOptions) (*datamodule.InMemory, error) {
	args := opts.Args
	if err := args.CheckKnown("size", "features", "p", "seed"); err != nil {
		return nil, errors.WithMessage(err, "synthetic")
	}
	size, err := registry.ArgOr(args, "size", 1000)
	if err != nil {
		return nil, err
	}
	features, err := registry.ArgOr(args, "features", 16)
	if err != nil {
		return nil, err
	}
	p, err := registry.ArgOr(args, "p", 0.5)
	if err != nil {
		return nil, err
	}
	seed, err := registry.ArgOr(args, "seed", int64(0))
	if err != nil {
		return nil, err
	}
	if size < 0 || features <= 0 || p < 0 || p > 1 {
		return nil, errors.Errorf("synthetic: invalid arguments %s", args)
	}
	if !opts.Train {
		seed = ^seed
	}
	return datamodule.NewInMemory(Generate(size, features, p, seed), nil, opts.Transform)
}

// Generate returns size examples with the given number of features, each a []float32 of 0s and 1s.
func Generate(size, features int, p float64, seed int64) []any {
	rng := rand.New(rand.NewSource(seed))
	examples := make([]any, size)
	for ii := range examples {
		x := make([]float32, features)
		if rng.Float64() < p {
			x[0] = 1
		}
		for jj := 1; jj < features; jj++ {
			x[jj] = x[jj-1]
			if rng.Float64() >= StayProbability {
				x[jj] = 1 - x[jj]
			}
		}
		examples[ii] = x
	}
	return examples
}
