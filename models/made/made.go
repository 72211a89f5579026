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

// Package made implements MADE, the Masked Autoencoder for Distribution Estimation
// (Germain et al., 2015), registered as the model "made.MADE".
//
// MADE is a feed-forward network whose weights are masked so that the outputs for feature d
// only depend on the inputs of the features that come before d in a given ordering. This
// makes the product of the per-feature conditionals a valid (autoregressive) density.
//
// Arguments:
//
//   - features: number of input features. Default 0, meaning it is taken from the input.
//   - hidden: sizes of the hidden layers. Default [500].
//   - activation: activation of the hidden layers, see activations.TypeValues. Default "relu".
//   - num_params: parameters per feature, 1 (Bernoulli logits) or 2 (Gaussian mean and log-scale). Default 1.
//   - natural_ordering: use the features order as the autoregressive order. Default false, a
//     random ordering derived from seed.
//   - seed: seed for the ordering and the hidden units degrees. Default 0.
//   - direct: add a masked direct connection from inputs to outputs. Default false.
package made

import (
	"fmt"
	"math/rand"
	"slices"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/made/models"
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
)

// Name of the model in the models registry.
const Name = "made.MADE"

func init() {
	models.Register(Name, func(args registry.Args) (models.Model, error) {
		config, err := ConfigFromArgs(args)
		if err != nil {
			return nil, err
		}
		return New(config)
	})
}

// Config of a MADE model.
type Config struct {
	Features        int
	Hidden          []int
	Activation      activations.Type
	NumParams       int
	NaturalOrdering bool
	Seed            int64
	Direct          bool
}

// DefaultConfig returns a configuration with one hidden layer of 500 units and Bernoulli outputs.
func DefaultConfig() Config {
	return Config{
		Hidden:     []int{500},
		Activation: activations.TypeRelu,
		NumParams:  1,
	}
}

// ConfigFromArgs parses the model arguments, starting from DefaultConfig.
func ConfigFromArgs(args registry.Args) (Config, error) {
	config := DefaultConfig()
	err := args.CheckKnown("features", "hidden", "activation", "num_params", "natural_ordering", "seed", "direct")
	if err != nil {
		return config, errors.WithMessage(err, Name)
	}
	if config.Features, err = registry.ArgOr(args, "features", config.Features); err != nil {
		return config, err
	}
	if config.Hidden, err = registry.ArgOr(args, "hidden", config.Hidden); err != nil {
		return config, err
	}
	activationName, err := registry.ArgOr(args, "activation", config.Activation.String())
	if err != nil {
		return config, err
	}
	if config.Activation, err = activations.TypeString(activationName); err != nil {
		return config, errors.Errorf("%s: invalid activation %q, valid values are %v", Name, activationName, activations.TypeValues())
	}
	if config.NumParams, err = registry.ArgOr(args, "num_params", config.NumParams); err != nil {
		return config, err
	}
	if config.NaturalOrdering, err = registry.ArgOr(args, "natural_ordering", config.NaturalOrdering); err != nil {
		return config, err
	}
	if config.Seed, err = registry.ArgOr(args, "seed", config.Seed); err != nil {
		return config, err
	}
	if config.Direct, err = registry.ArgOr(args, "direct", config.Direct); err != nil {
		return config, err
	}
	return config, nil
}

// MADE model. It implements models.Model.
type MADE struct {
	config Config
}

var _ models.Model = (*MADE)(nil)

// New creates a MADE model with the given configuration.
func New(config Config) (*MADE, error) {
	if config.NumParams < 1 {
		return nil, errors.Errorf("%s: num_params must be >= 1, got %d", Name, config.NumParams)
	}
	if config.Features < 0 {
		return nil, errors.Errorf("%s: invalid number of features %d", Name, config.Features)
	}
	for _, size := range config.Hidden {
		if size <= 0 {
			return nil, errors.Errorf("%s: invalid hidden layer sizes %v", Name, config.Hidden)
		}
	}
	config.Hidden = slices.Clone(config.Hidden)
	return &MADE{config: config}, nil
}

// Config returns the model configuration.
func (m *MADE) Config() Config { return m.config }

// NumParams implements models.Model.
func (m *MADE) NumParams() int { return m.config.NumParams }

func (m *MADE) String() string {
	return fmt.Sprintf("%s(features=%d, hidden=%v, activation=%s, num_params=%d, natural_ordering=%v, seed=%d, direct=%v)",
		Name, m.config.Features, m.config.Hidden, m.config.Activation, m.config.NumParams,
		m.config.NaturalOrdering, m.config.Seed, m.config.Direct)
}

// Mask of a masked dense layer, shaped [inputs][outputs]: Mask[i][j] is true if input unit i
// is connected to output unit j.
type Mask [][]bool

// Ordering returns the position of each feature in the autoregressive order.
func (m *MADE) Ordering(numFeatures int) []int {
	if m.config.NaturalOrdering {
		order := make([]int, numFeatures)
		for ii := range order {
			order[ii] = ii
		}
		return order
	}
	return rand.New(rand.NewSource(m.config.Seed)).Perm(numFeatures)
}

// degrees returns the degree of the units of every layer: the input ordering followed by the
// degrees of each hidden layer.
//
// A hidden unit of degree k may only depend on the inputs of order <= k, and it is drawn
// uniformly between the minimum degree of the previous layer and numFeatures-2.
func (m *MADE) degrees(numFeatures int) [][]int {
	rng := rand.New(rand.NewSource(m.config.Seed + 1))
	degrees := [][]int{m.Ordering(numFeatures)}
	for _, size := range m.config.Hidden {
		prev := degrees[len(degrees)-1]
		low := slices.Min(prev)
		high := numFeatures - 2
		layer := make([]int, size)
		for ii := range layer {
			if high >= low {
				layer[ii] = low + rng.Intn(high-low+1)
			} else {
				layer[ii] = low
			}
		}
		degrees = append(degrees, layer)
	}
	return degrees
}

// Masks returns the masks of each layer, from the input to the output, for the given number of
// features. The output layer has NumParams()*numFeatures units: unit p*numFeatures+d holds the
// parameter p of feature d.
func (m *MADE) Masks(numFeatures int) []Mask {
	degrees := m.degrees(numFeatures)
	masks := make([]Mask, 0, len(degrees))
	for ii := 1; ii < len(degrees); ii++ {
		masks = append(masks, newMask(degrees[ii-1], degrees[ii], func(in, out int) bool { return out >= in }))
	}
	masks = append(masks, m.outputMask(degrees[len(degrees)-1], degrees[0]))
	return masks
}

// DirectMask returns the mask of the direct input to output connection.
func (m *MADE) DirectMask(numFeatures int) Mask {
	order := m.Ordering(numFeatures)
	return m.outputMask(order, order)
}

// outputMask connects a unit of degree k to the outputs of the features of order > k.
func (m *MADE) outputMask(inDegrees, order []int) Mask {
	outDegrees := make([]int, 0, m.config.NumParams*len(order))
	for range m.config.NumParams {
		outDegrees = append(outDegrees, order...)
	}
	return newMask(inDegrees, outDegrees, func(in, out int) bool { return out > in })
}

func newMask(inDegrees, outDegrees []int, connected func(in, out int) bool) Mask {
	mask := make(Mask, len(inDegrees))
	for ii, in := range inDegrees {
		mask[ii] = make([]bool, len(outDegrees))
		for jj, out := range outDegrees {
			mask[ii][jj] = connected(in, out)
		}
	}
	return mask
}

// tensor converts the mask to a float32 tensor of 0s and 1s.
func (mask Mask) tensor() *tensors.Tensor {
	numIn, numOut := len(mask), 0
	if numIn > 0 {
		numOut = len(mask[0])
	}
	flat := make([]float32, 0, numIn*numOut)
	for _, row := range mask {
		for _, connected := range row {
			if connected {
				flat = append(flat, 1)
			} else {
				flat = append(flat, 0)
			}
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, numIn, numOut)
}

// maskedDense is a dense layer whose weights are multiplied by the mask.
func maskedDense(ctx *context.Context, x *Node, mask Mask, useBias bool) *Node {
	g := x.Graph()
	dtype := x.DType()
	numIn, numOut := len(mask), len(mask[0])
	weights := ctx.VariableWithShape("weights", shapes.Make(dtype, numIn, numOut)).ValueGraph(g)
	maskNode := ConvertDType(Const(g, mask.tensor()), dtype)
	output := Dot(x, Mul(weights, maskNode))
	if useBias {
		biases := ctx.VariableWithShape("biases", shapes.Make(dtype, 1, numOut)).ValueGraph(g)
		output = Add(output, biases)
	}
	return output
}

// Params implements models.Model. The output is shaped [batch_size, NumParams(), num_features].
func (m *MADE) Params(ctx *context.Context, x *Node) *Node {
	if x.Rank() != 2 {
		Panicf("%s: input must be shaped [batch_size, num_features], got %s", Name, x.Shape())
	}
	batchSize, numFeatures := x.Shape().Dimensions[0], x.Shape().Dimensions[1]
	if m.config.Features > 0 && m.config.Features != numFeatures {
		Panicf("%s configured with %d features, but input is shaped %s", Name, m.config.Features, x.Shape())
	}
	ctx = ctx.In("made")
	masks := m.Masks(numFeatures)
	h := x
	for ii, mask := range masks {
		if len(mask[0]) == 0 {
			Panicf("%s: layer %d has no units", Name, ii)
		}
		h = maskedDense(ctx.In(fmt.Sprintf("layer_%d", ii)), h, mask, true)
		if ii < len(masks)-1 {
			h = activations.Apply(m.config.Activation, h)
		}
	}
	if m.config.Direct {
		h = Add(h, maskedDense(ctx.In("direct"), x, m.DirectMask(numFeatures), false))
	}
	return Reshape(h, batchSize, m.config.NumParams, numFeatures)
}
