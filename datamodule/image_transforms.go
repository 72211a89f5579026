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
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Image transforms operate on image.Image inputs, so they must come before ToTensor.

func imageInput(name string, input any) (image.Image, error) {
	img, ok := input.(image.Image)
	if !ok {
		return nil, errors.Errorf("%s: expected an image.Image input, got %T -- image transforms must come before ToTensor", name, input)
	}
	return img, nil
}

// Resize scales an image to Width x Height. If one of them is 0, the aspect ratio is preserved.
type Resize struct {
	Width, Height int
}

func (r *Resize) String() string { return fmt.Sprintf("Resize(width=%d, height=%d)", r.Width, r.Height) }

// Apply implements Transform.
func (r *Resize) Apply(input any) (any, error) {
	img, err := imageInput("Resize", input)
	if err != nil {
		return nil, err
	}
	if r.Width <= 0 && r.Height <= 0 {
		return nil, errors.Errorf("Resize: at least one of width or height must be set")
	}
	return keepGray(img, imaging.Resize(img, r.Width, r.Height, imaging.Linear)), nil
}

// CenterCrop cuts the Width x Height rectangle at the center of the image.
type CenterCrop struct {
	Width, Height int
}

func (c *CenterCrop) String() string {
	return fmt.Sprintf("CenterCrop(width=%d, height=%d)", c.Width, c.Height)
}

// Apply implements Transform.
func (c *CenterCrop) Apply(input any) (any, error) {
	img, err := imageInput("CenterCrop", input)
	if err != nil {
		return nil, err
	}
	return keepGray(img, imaging.CropCenter(img, c.Width, c.Height)), nil
}

// Grayscale converts the image to a single channel *image.Gray, so ToTensor yields 1 channel.
type Grayscale struct{}

func (*Grayscale) String() string { return "Grayscale()" }

// Apply implements Transform.
func (*Grayscale) Apply(input any) (any, error) {
	img, err := imageInput("Grayscale", input)
	if err != nil {
		return nil, err
	}
	return toGray(imaging.Grayscale(img)), nil
}

// keepGray converts the output of imaging (always NRGBA) back to gray if the source was gray.
func keepGray(src image.Image, dst *image.NRGBA) image.Image {
	model := src.ColorModel()
	if model == color.GrayModel || model == color.Gray16Model {
		return toGray(dst)
	}
	return dst
}

func toGray(img *image.NRGBA) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.SetGray(x, y, color.Gray{Y: img.NRGBAAt(x, y).R})
		}
	}
	return gray
}
