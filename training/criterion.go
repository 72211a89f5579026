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

package training

import (
	"fmt"
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/made/models"
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
)

// Keys of the values computed by the Criterion.
const (
	KeyLoss = "loss"
	KeyBPD  = "bpd"
)

// Likelihood of each feature given the parameters returned by the model.
type Likelihood int

const (
	// Bernoulli likelihood: the model returns one logit per feature, and features are in [0, 1].
	Bernoulli Likelihood = iota

	// Gaussian likelihood: the model returns the mean and the log of the scale of each feature.
	Gaussian
)

func (l Likelihood) String() string {
	switch l {
	case Bernoulli:
		return "bernoulli"
	case Gaussian:
		return "gaussian"
	default:
		return fmt.Sprintf("Likelihood(%d)", int(l))
	}
}

// NumParams returns the number of parameters per feature the likelihood requires.
func (l Likelihood) NumParams() int {
	if l == Gaussian {
		return 2
	}
	return 1
}

// ParseLikelihood converts a name ("bernoulli" or "gaussian") to a Likelihood.
func ParseLikelihood(name string) (Likelihood, error) {
	for _, l := range []Likelihood{Bernoulli, Gaussian} {
		if l.String() == name {
			return l, nil
		}
	}
	return Bernoulli, errors.Errorf("unknown likelihood %q, valid values are \"bernoulli\" and \"gaussian\"", name)
}

// Bounds of the log-scale of the Gaussian likelihood.
const (
	minLogScale = -7.0
	maxLogScale = 7.0
)

// Criterion computes the negative log-likelihood of the inputs under the model.
type Criterion struct {
	Likelihood Likelihood
}

// NewCriterion creates a Criterion from its arguments. The only argument is "likelihood",
// "bernoulli" by default.
func NewCriterion(args registry.Args) (*Criterion, error) {
	if err := args.CheckKnown("likelihood"); err != nil {
		return nil, errors.WithMessage(err, "criterion")
	}
	name, err := registry.ArgOr(args, "likelihood", Bernoulli.String())
	if err != nil {
		return nil, err
	}
	likelihood, err := ParseLikelihood(name)
	if err != nil {
		return nil, err
	}
	return &Criterion{Likelihood: likelihood}, nil
}

// NLL returns the negative log-likelihood of each example of x, in nats, shaped [batch_size].
// x must be shaped [batch_size, num_features].
func (c *Criterion) NLL(ctx *context.Context, model models.Model, x *Node) *Node {
	if model.NumParams() != c.Likelihood.NumParams() {
		Panicf("%s likelihood requires %d parameters per feature, but model returns %d",
			c.Likelihood, c.Likelihood.NumParams(), model.NumParams())
	}
	params := model.Params(ctx, x)
	batchSize, numFeatures := x.Shape().Dimensions[0], x.Shape().Dimensions[1]
	param := func(ii int) *Node {
		return Reshape(Slice(params, AxisRange(), AxisElem(ii), AxisRange()), batchSize, numFeatures)
	}
	var nll *Node
	switch c.Likelihood {
	case Bernoulli:
		// Binary cross-entropy per feature, stable for large logits.
		logits := param(0)
		nll = Add(Sub(Max(logits, ZerosLike(logits)), Mul(logits, x)), Log1P(Exp(Neg(Abs(logits)))))
	case Gaussian:
		mean := param(0)
		logScale := ClipScalar(param(1), minLogScale, maxLogScale)
		z := Mul(Sub(x, mean), Exp(Neg(logScale)))
		nll = Add(logScale, MulScalar(Square(z), 0.5))
		nll = AddScalar(nll, 0.5*math.Log(2*math.Pi))
	default:
		Panicf("unknown likelihood %s", c.Likelihood)
	}
	return ReduceSum(nll, -1)
}

// Compute returns the loss, the mean negative log-likelihood per example, and the same value
// in bits per dimension.
func (c *Criterion) Compute(ctx *context.Context, model models.Model, x *Node) map[string]*Node {
	loss := ReduceAllMean(c.NLL(ctx, model, x))
	numFeatures := x.Shape().Dimensions[1]
	return map[string]*Node{
		KeyLoss: loss,
		KeyBPD:  DivScalar(loss, float64(numFeatures)*math.Ln2),
	}
}
