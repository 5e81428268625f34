package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var errEmptyRaster = errors.New("image has no pixels")

// ToRaster copies any decoded image into the canonical non-premultiplied RGBA buffer
// (width x height x 4 bytes) anchored at the origin.
func ToRaster(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// Flatten composites img onto an opaque white background.
func Flatten(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// IsOpaque reports whether every pixel has full alpha.
func IsOpaque(img *image.NRGBA) bool {
	return img.Opaque()
}

// FitWithin downscales img so neither side exceeds limit, preserving aspect ratio.
// Images already within bounds are returned unchanged.
func FitWithin(img *image.NRGBA, limit int) *image.NRGBA {
	b := img.Bounds()
	if limit <= 0 || (b.Dx() <= limit && b.Dy() <= limit) {
		return img
	}
	return imaging.Fit(img, limit, limit, imaging.Lanczos)
}

// decodeSniffed decodes any registered raster container by content, honoring EXIF orientation.
func decodeSniffed(data []byte) (*image.NRGBA, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, errEmptyRaster
	}
	return ToRaster(img), nil
}

func validRaster(img *image.NRGBA) error {
	if img == nil || img.Bounds().Empty() {
		return errEmptyRaster
	}
	return nil
}
