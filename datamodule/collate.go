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
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Collate stacks the examples of a batch.
//
// The inputs must all be tensors of the same shape, and are stacked into one tensor with a
// leading batch axis. Labels are either all nil (then labels is empty), all tensors of the same
// shape (stacked as inputs), or all numeric scalars: integers are collated into an Int32 vector
// and floats into a Float32 vector.
func Collate(examples []Example) (inputs, labels []*tensors.Tensor, err error) {
	if len(examples) == 0 {
		return nil, nil, errors.New("Collate: empty batch")
	}
	inputTensors := make([]*tensors.Tensor, len(examples))
	for ii, ex := range examples {
		t, ok := ex.Input.(*tensors.Tensor)
		if !ok {
			return nil, nil, errors.Errorf("Collate: input of example #%d is a %T, not a *tensors.Tensor -- missing ToTensor transform?", ii, ex.Input)
		}
		inputTensors[ii] = t
	}
	stacked, err := Stack(inputTensors)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "Collate inputs")
	}
	inputs = []*tensors.Tensor{stacked}

	label, err := collateLabels(examples)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "Collate labels")
	}
	if label != nil {
		labels = []*tensors.Tensor{label}
	}
	return inputs, labels, nil
}

func collateLabels(examples []Example) (*tensors.Tensor, error) {
	switch examples[0].Label.(type) {
	case nil:
		for ii, ex := range examples {
			if ex.Label != nil {
				return nil, errors.Errorf("example #%d has a label, but example #0 doesn't", ii)
			}
		}
		return nil, nil
	case *tensors.Tensor:
		ts := make([]*tensors.Tensor, len(examples))
		for ii, ex := range examples {
			t, ok := ex.Label.(*tensors.Tensor)
			if !ok {
				return nil, errors.Errorf("label of example #%d is a %T, expected *tensors.Tensor", ii, ex.Label)
			}
			ts[ii] = t
		}
		return Stack(ts)
	case float32, float64:
		values := make([]float32, len(examples))
		for ii, ex := range examples {
			switch v := ex.Label.(type) {
			case float32:
				values[ii] = v
			case float64:
				values[ii] = float32(v)
			default:
				return nil, errors.Errorf("label of example #%d is a %T, expected a float", ii, ex.Label)
			}
		}
		return tensors.FromFlatDataAndDimensions(values, len(values)), nil
	}
	values := make([]int32, len(examples))
	for ii, ex := range examples {
		switch v := ex.Label.(type) {
		case int:
			values[ii] = int32(v)
		case int32:
			values[ii] = v
		case int64:
			values[ii] = int32(v)
		case uint8:
			values[ii] = int32(v)
		default:
			return nil, errors.Errorf("label of example #%d is a %T, which is not supported", ii, ex.Label)
		}
	}
	return tensors.FromFlatDataAndDimensions(values, len(values)), nil
}

// Stack joins tensors of the same shape into one tensor with a new leading axis.
func Stack(ts []*tensors.Tensor) (*tensors.Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("Stack: no tensors")
	}
	first := ts[0].Shape()
	for ii, t := range ts[1:] {
		if !t.Shape().Equal(first) {
			return nil, errors.Errorf("Stack: tensor #%d shaped %s, but tensor #0 shaped %s", ii+1, t.Shape(), first)
		}
	}
	dims := append([]int{len(ts)}, first.Dimensions...)
	stacked := tensors.FromShape(shapes.Make(first.DType, dims...))
	if first.Size() == 0 {
		return stacked, nil
	}
	itemBytes := int(first.Memory())
	stacked.MutableBytes(func(dst []byte) {
		for ii, t := range ts {
			t.ConstBytes(func(src []byte) {
				copy(dst[ii*itemBytes:(ii+1)*itemBytes], src)
			})
		}
	})
	return stacked, nil
}
