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
	"strings"

	"github.com/gomlx/made/registry"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TransformConstructor creates a Transform from its configuration arguments.
type TransformConstructor func(args registry.Args) (Transform, error)

var transformRegistry = registry.New[TransformConstructor]("transform")

// RegisterTransform makes a transform constructor available by name to configurations.
// It should be called during package initialization.
func RegisterTransform(name string, constructor TransformConstructor) {
	transformRegistry.Register(name, constructor)
}

// LookupTransform returns the constructor registered with name.
func LookupTransform(name string) (TransformConstructor, error) {
	return transformRegistry.Lookup(name)
}

// TransformNames returns the names of the registered transforms.
func TransformNames() []string { return transformRegistry.Names() }

func init() {
	RegisterTransform("ToTensor", func(args registry.Args) (Transform, error) {
		return &ToTensor{}, args.CheckKnown()
	})
	newReshape := func(args registry.Args) (Transform, error) {
		if err := args.CheckKnown("shape"); err != nil {
			return nil, err
		}
		shape, err := registry.ArgOr[[]int](args, "shape", nil)
		if err != nil {
			return nil, err
		}
		if len(shape) == 0 {
			return nil, errors.New("argument \"shape\" is required")
		}
		return &Reshape{Shape: shape}, nil
	}
	RegisterTransform("Reshape", newReshape)
	RegisterTransform("ReshapeTensor", newReshape)
	RegisterTransform("Flatten", func(args registry.Args) (Transform, error) {
		return &Flatten{}, args.CheckKnown()
	})
	RegisterTransform("Binarize", func(args registry.Args) (Transform, error) {
		if err := args.CheckKnown("threshold"); err != nil {
			return nil, err
		}
		threshold, err := registry.ArgOr[float32](args, "threshold", 0.5)
		return &Binarize{Threshold: threshold}, err
	})
	RegisterTransform("Normalize", func(args registry.Args) (Transform, error) {
		if err := args.CheckKnown("mean", "std"); err != nil {
			return nil, err
		}
		mean, err := floatsArg(args, "mean")
		if err != nil {
			return nil, err
		}
		std, err := floatsArg(args, "std")
		if err != nil {
			return nil, err
		}
		return &Normalize{Mean: mean, Std: std}, nil
	})
	newSized := func(args registry.Args) (width, height int, err error) {
		if err = args.CheckKnown("size", "width", "height"); err != nil {
			return
		}
		var size int
		if size, err = registry.ArgOr(args, "size", 0); err != nil {
			return
		}
		if width, err = registry.ArgOr(args, "width", size); err != nil {
			return
		}
		height, err = registry.ArgOr(args, "height", size)
		return
	}
	RegisterTransform("Resize", func(args registry.Args) (Transform, error) {
		width, height, err := newSized(args)
		return &Resize{Width: width, Height: height}, err
	})
	RegisterTransform("CenterCrop", func(args registry.Args) (Transform, error) {
		width, height, err := newSized(args)
		if err == nil && (width <= 0 || height <= 0) {
			err = errors.Errorf("CenterCrop requires a positive size, got width=%d, height=%d", width, height)
		}
		return &CenterCrop{Width: width, Height: height}, err
	})
	RegisterTransform("Grayscale", func(args registry.Args) (Transform, error) {
		return &Grayscale{}, args.CheckKnown()
	})
}

// floatsArg reads a required argument given either as a number or as a list of numbers.
func floatsArg(args registry.Args, key string) ([]float64, error) {
	if !args.Has(key) {
		return nil, errors.Errorf("argument %q is required", key)
	}
	if value, err := registry.ArgOr(args, key, 0.0); err == nil {
		return []float64{value}, nil
	}
	return registry.ArgOr[[]float64](args, key, nil)
}

// TransformKind enumerates the forms a TransformSpec can take.
type TransformKind int

const (
	// KindDefault is the empty spec, resolved to ToTensor.
	KindDefault TransformKind = iota

	// KindInstance holds an already constructed Transform.
	KindInstance

	// KindClass is a registered transform name plus its arguments.
	KindClass

	// KindSequence is a list of specs, resolved to a Compose.
	KindSequence
)

func (k TransformKind) String() string {
	switch k {
	case KindInstance:
		return "instance"
	case KindClass:
		return "class"
	case KindSequence:
		return "sequence"
	}
	return "default"
}

// TransformSpec describes a transform pipeline in configuration. Only one of Instance, Class or
// Sequence is expected to be set.
//
// In YAML it is either a mapping `{cls: Name, args: {...}}`, a bare transform name, or a list
// of those.
type TransformSpec struct {
	Class    string        `yaml:"cls"`
	Args     registry.Args `yaml:"args"`
	Sequence []TransformSpec
	Instance Transform
}

// TransformValue wraps a constructed transform.
func TransformValue(t Transform) *TransformSpec { return &TransformSpec{Instance: t} }

// TransformByName refers to a registered transform, to be constructed with args.
func TransformByName(name string, args registry.Args) *TransformSpec {
	return &TransformSpec{Class: name, Args: args}
}

// TransformList composes the given specs in order.
func TransformList(specs ...*TransformSpec) *TransformSpec {
	seq := make([]TransformSpec, 0, len(specs))
	for _, spec := range specs {
		if spec == nil {
			spec = &TransformSpec{}
		}
		seq = append(seq, *spec)
	}
	return &TransformSpec{Sequence: seq}
}

// Kind returns the form of the spec. A nil spec is KindDefault.
func (spec *TransformSpec) Kind() TransformKind {
	switch {
	case spec == nil:
		return KindDefault
	case spec.Instance != nil:
		return KindInstance
	case spec.Sequence != nil:
		return KindSequence
	case spec.Class != "":
		return KindClass
	}
	return KindDefault
}

func (spec *TransformSpec) String() string {
	switch spec.Kind() {
	case KindInstance:
		return describeTransform(spec.Instance)
	case KindClass:
		if len(spec.Args) == 0 {
			return spec.Class
		}
		return fmt.Sprintf("%s%s", spec.Class, spec.Args)
	case KindSequence:
		parts := make([]string, len(spec.Sequence))
		for ii := range spec.Sequence {
			parts[ii] = spec.Sequence[ii].String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "default"
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (spec *TransformSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var seq []TransformSpec
		if err := node.Decode(&seq); err != nil {
			return err
		}
		if seq == nil {
			seq = []TransformSpec{}
		}
		*spec = TransformSpec{Sequence: seq}
		return nil
	case yaml.MappingNode:
		type plain struct {
			Class string        `yaml:"cls"`
			Args  registry.Args `yaml:"args"`
		}
		var p plain
		if err := node.Decode(&p); err != nil {
			return errors.Wrapf(err, "transform (line %d)", node.Line)
		}
		if p.Class == "" {
			return errors.Errorf("transform (line %d) is missing the \"cls\" field", node.Line)
		}
		*spec = TransformSpec{Class: p.Class, Args: p.Args}
		return nil
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			*spec = TransformSpec{}
			return nil
		}
		*spec = TransformSpec{Class: node.Value}
		return nil
	}
	return errors.Errorf("transform (line %d) must be a name, a {cls, args} mapping or a list", node.Line)
}

// ResolveTransform builds the pipeline described by spec:
//
//   - nil (or empty) spec: ToTensor.
//   - Instance: returned unchanged.
//   - Class: looked up in the transform registry and constructed with Args.
//   - Sequence: Compose of the resolved elements, in order.
func ResolveTransform(spec *TransformSpec) (Transform, error) {
	switch spec.Kind() {
	case KindInstance:
		return spec.Instance, nil
	case KindClass:
		constructor, err := LookupTransform(spec.Class)
		if err != nil {
			return nil, err
		}
		t, err := constructor(spec.Args)
		if err != nil {
			return nil, errors.WithMessagef(err, "creating transform %q", spec.Class)
		}
		return t, nil
	case KindSequence:
		compose := &Compose{Transforms: make([]Transform, 0, len(spec.Sequence))}
		for ii := range spec.Sequence {
			t, err := ResolveTransform(&spec.Sequence[ii])
			if err != nil {
				return nil, errors.WithMessagef(err, "transform #%d", ii)
			}
			compose.Transforms = append(compose.Transforms, t)
		}
		return compose, nil
	}
	return &ToTensor{}, nil
}
