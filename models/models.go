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

// Package models defines the interface of density estimation models and the registry used
// to create them by name from configurations.
//
// Model implementations register themselves when their package is imported, e.g. importing
// github.com/gomlx/made/models/made makes "made.MADE" available.
package models

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
)

// Model of a factorized distribution over a vector of features.
type Model interface {
	// NumParams returns the number of distribution parameters per feature: 1 for Bernoulli
	// (the logits), 2 for a Gaussian (mean and log-scale).
	NumParams() int

	// Params returns the parameters of the conditional distribution of each feature of x,
	// shaped [batch_size, NumParams(), num_features], for x shaped [batch_size, num_features].
	//
	// Variables are created in ctx. Like other graph building functions, it panics on errors.
	Params(ctx *context.Context, x *Node) *Node
}

// Constructor creates a Model from its configuration arguments.
type Constructor func(args registry.Args) (Model, error)

var modelRegistry = registry.New[Constructor]("model")

// Register makes a model constructor available by name. It should be called during package initialization.
func Register(name string, constructor Constructor) {
	modelRegistry.Register(name, constructor)
}

// Lookup returns the constructor registered with name.
func Lookup(name string) (Constructor, error) {
	return modelRegistry.Lookup(name)
}

// Names of the registered models.
func Names() []string { return modelRegistry.Names() }

// New creates the model registered with name, with the given arguments.
func New(name string, args registry.Args) (Model, error) {
	constructor, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	model, err := constructor(args)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating model %q with args %s", name, args)
	}
	return model, nil
}
