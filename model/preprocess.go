package model

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
)

// InputSize is the square edge, in pixels, the classifier expects.
const InputSize = 224

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// PreprocessingError wraps any failure turning an upload into a Tensor.
type PreprocessingError struct {
	Op  string
	Err error
}

func (e *PreprocessingError) Error() string {
	return fmt.Sprintf("preprocess %s: %v", e.Op, e.Err)
}

func (e *PreprocessingError) Unwrap() error {
	return e.Err
}

// Preprocess decodes an image and converts it to a [1, 224, 224, 3] tensor
// with values in [0, 1].
func Preprocess(r io.Reader) (*Tensor, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, &PreprocessingError{Op: "decode", Err: err}
	}
	return PreprocessImage(img)
}

// PreprocessImage resizes img bilinearly to 224x224 and normalizes it.
func PreprocessImage(img image.Image) (*Tensor, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, &PreprocessingError{Op: "resize", Err: errors.New("image has no pixels")}
	}

	resized := resize.Resize(InputSize, InputSize, img, resize.Bilinear)
	rb := resized.Bounds()

	data := make([]float32, InputSize*InputSize*3)
	i := 0
	for y := rb.Min.Y; y < rb.Min.Y+InputSize; y++ {
		for x := rb.Min.X; x < rb.Min.X+InputSize; x++ {
			r, g, bl, _ := resized.At(x, y).RGBA()
			data[i] = float32(r>>8) / 255
			data[i+1] = float32(g>>8) / 255
			data[i+2] = float32(bl>>8) / 255
			i += 3
		}
	}

	return &Tensor{
		Shape: []int64{1, InputSize, InputSize, 3},
		Data:  data,
	}, nil
}
