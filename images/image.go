// Package images - Image definition for processing utilities.
package images

import (
	"bytes"
	"image"
	// Standard decoders registered with image.Decode.
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the BMP image format.
	FormatBMP ImageFormat = "bmp"
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// SizeOf returns the pixel size of img.
func SizeOf(img image.Image) Size {
	b := img.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}
}

// Image represents a decoded image together with its source format.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The decoded pixels.
	Pixels image.Image `json:"-" yaml:"-"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// Size returns the original size of the image.
func (i Image) Size() Size {
	return Size{Width: i.Width, Height: i.Height}
}

// Decode decodes encoded image bytes (JPEG, PNG, WebP or BMP).
//
// Arguments:
//   - data: The encoded image.
//
// Returns:
//   - Image: The decoded image and its original dimensions.
//   - error: An error if the data is empty or cannot be decoded.
func Decode(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, errors.New("empty image data")
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, errors.Wrap(err, "failed to decode image")
	}

	size := SizeOf(img)
	return Image{
		Format: ImageFormat(format),
		Pixels: img,
		Width:  size.Width,
		Height: size.Height,
	}, nil
}
