package images

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Channels is the number of color channels in a model input tensor.
const Channels = 3

// Resize scales img to exactly the given size, ignoring the aspect ratio.
//
// The x and y scale factors are independent, so a detector can undo the resize
// by multiplying x by original/target width and y by original/target height.
//
// Arguments:
//   - img: The image to resize.
//   - size: The target size.
//
// Returns:
//   - image.Image: The resized image.
func Resize(img image.Image, size Size) image.Image {
	if SizeOf(img) == size {
		return img
	}
	return resize.Resize(uint(size.Width), uint(size.Height), img, resize.Bilinear)
}

// ToTensor resizes img to the target size and lays it out as a float32
// (height, width, 3) RGB tensor with raw 0-255 channel values.
//
// Arguments:
//   - img: The image to convert.
//   - size: The model input size.
//
// Returns:
//   - *tensor.Dense: The HWC tensor.
//   - Size: The original size of img, needed to rescale detections.
//   - error: An error if the target size is invalid.
func ToTensor(img image.Image, size Size) (*tensor.Dense, Size, error) {
	if !size.Valid() {
		return nil, Size{}, errors.Errorf("invalid target size: width=%d, height=%d", size.Width, size.Height)
	}

	original := SizeOf(img)
	if !original.Valid() {
		return nil, Size{}, errors.New("image has no pixels")
	}

	resized := Resize(img, size)
	bounds := resized.Bounds()
	data := make([]float32, size.Height*size.Width*Channels)

	i := 0
	for y := bounds.Min.Y; y < bounds.Min.Y+size.Height; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+size.Width; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[i] = float32(r >> 8)
			data[i+1] = float32(g >> 8)
			data[i+2] = float32(b >> 8)
			i += Channels
		}
	}

	return tensor.New(
		tensor.WithShape(size.Height, size.Width, Channels),
		tensor.WithBacking(data),
	), original, nil
}
