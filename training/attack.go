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
	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
)

// Norm used to bound the adversarial perturbation.
type Norm int

const (
	// LInf bounds the largest absolute change of any feature.
	LInf Norm = iota

	// L2 bounds the euclidean norm of the change of each example.
	L2
)

func (n Norm) String() string {
	switch n {
	case LInf:
		return "linf"
	case L2:
		return "l2"
	default:
		return fmt.Sprintf("Norm(%d)", int(n))
	}
}

// PGDAttacker perturbs inputs to increase the loss, with projected gradient ascent.
//
// Each step moves the perturbed input along the gradient of the loss (its sign for LInf, the
// normalized gradient for L2) by StepSize, then projects it back into the Eps ball around the
// original input and into [ClipMin, ClipMax].
type PGDAttacker struct {
	Eps, StepSize    float64
	Steps            int
	Norm             Norm
	RandomStart      bool
	ClipMin, ClipMax float64
}

// NewPGDAttacker creates an attacker from its arguments:
//
//   - eps: radius of the perturbation. Default 0.1.
//   - step_size: size of each step. Default eps/4.
//   - steps: number of steps. Default 10.
//   - norm: "linf" or "l2". Default "linf".
//   - random_start: start from a random point in the eps ball. Default false.
//   - clip_min, clip_max: valid range of the inputs. Default [0, 1].
func NewPGDAttacker(args registry.Args) (*PGDAttacker, error) {
	err := args.CheckKnown("eps", "step_size", "steps", "norm", "random_start", "clip_min", "clip_max")
	if err != nil {
		return nil, errors.WithMessage(err, "attacker")
	}
	a := &PGDAttacker{ClipMax: 1}
	if a.Eps, err = registry.ArgOr(args, "eps", 0.1); err != nil {
		return nil, err
	}
	if a.StepSize, err = registry.ArgOr(args, "step_size", a.Eps/4); err != nil {
		return nil, err
	}
	if a.Steps, err = registry.ArgOr(args, "steps", 10); err != nil {
		return nil, err
	}
	normName, err := registry.ArgOr(args, "norm", LInf.String())
	if err != nil {
		return nil, err
	}
	switch normName {
	case LInf.String():
		a.Norm = LInf
	case L2.String():
		a.Norm = L2
	default:
		return nil, errors.Errorf("attacker: unknown norm %q, valid values are \"linf\" and \"l2\"", normName)
	}
	if a.RandomStart, err = registry.ArgOr(args, "random_start", a.RandomStart); err != nil {
		return nil, err
	}
	if a.ClipMin, err = registry.ArgOr(args, "clip_min", a.ClipMin); err != nil {
		return nil, err
	}
	if a.ClipMax, err = registry.ArgOr(args, "clip_max", a.ClipMax); err != nil {
		return nil, err
	}
	if a.Eps < 0 || a.StepSize < 0 || a.Steps < 0 || a.ClipMin > a.ClipMax {
		return nil, errors.Errorf("attacker: invalid arguments %+v", *a)
	}
	return a, nil
}

func (a *PGDAttacker) String() string {
	return fmt.Sprintf("PGD(eps=%g, step_size=%g, steps=%d, norm=%s, random_start=%v, clip=[%g, %g])",
		a.Eps, a.StepSize, a.Steps, a.Norm, a.RandomStart, a.ClipMin, a.ClipMax)
}

// Attack returns the perturbed input and the loss of the original and perturbed inputs.
// lossFn must return a scalar. The perturbed input carries no gradient.
func (a *PGDAttacker) Attack(ctx *context.Context, lossFn func(x *Node) *Node, x *Node) (adv, initLoss, finalLoss *Node) {
	if x.Rank() < 1 {
		Panicf("attacker requires inputs with a batch axis, got %s", x.Shape())
	}
	x = StopGradient(x)
	initLoss = lossFn(x)
	adv = x
	if a.RandomStart {
		noise := ctx.RandomUniform(x.Graph(), x.Shape())
		noise = MulScalar(AddScalar(noise, -0.5), 2*a.Eps)
		adv = a.project(x, Add(x, noise))
	}
	for range a.Steps {
		loss := lossFn(adv)
		grad := Gradient(loss, adv)[0]
		switch a.Norm {
		case LInf:
			grad = Sign(grad)
		case L2:
			grad = Div(grad, AddScalar(exampleNorm(grad), 1e-12))
		}
		adv = a.project(x, Add(adv, MulScalar(grad, a.StepSize)))
		adv = StopGradient(adv)
	}
	finalLoss = lossFn(adv)
	return
}

// project moves adv back into the eps ball around x, and into the valid range of the inputs.
func (a *PGDAttacker) project(x, adv *Node) *Node {
	delta := Sub(adv, x)
	switch a.Norm {
	case LInf:
		delta = ClipScalar(delta, -a.Eps, a.Eps)
	case L2:
		norm := exampleNorm(delta)
		scale := Min(OnesLike(norm), Div(Scalar(x.Graph(), x.DType(), a.Eps), AddScalar(norm, 1e-12)))
		delta = Mul(delta, scale)
	}
	minValue, maxValue := a.ClipMin, a.ClipMax
	if math.IsInf(minValue, 0) && math.IsInf(maxValue, 0) {
		return Add(x, delta)
	}
	return ClipScalar(Add(x, delta), minValue, maxValue)
}

// exampleNorm returns the L2 norm of each example, keeping the reduced axes.
func exampleNorm(x *Node) *Node {
	axes := make([]int, 0, x.Rank()-1)
	for axis := 1; axis < x.Rank(); axis++ {
		axes = append(axes, axis)
	}
	return Sqrt(ReduceAndKeep(Square(x), ReduceSum, axes...))
}
