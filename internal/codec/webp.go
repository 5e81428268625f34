package codec

import (
	"bytes"
	"context"
	"image"

	"github.com/dunamismax/convertify/internal/format"
	"golang.org/x/image/webp"
)

// webpAdapter decodes with the pure-Go x/image reader; encoding depends on the build (cgo).
type webpAdapter struct {
	encode func(img image.Image, quality int) ([]byte, error)
}

func newWebPAdapter() Adapter {
	return webpAdapter{encode: nativeWebPEncoder()}
}

func (webpAdapter) Format() format.ImageFormat {
	return format.WebP
}

func (webpAdapter) Decode(ctx context.Context, data []byte) (*image.NRGBA, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		// Not a WebP stream after all; give the other registered readers a chance.
		sniffed, sniffErr := decodeSniffed(data)
		if sniffErr != nil {
			return nil, decodeError(format.WebP, err)
		}
		return sniffed, nil
	}
	return ToRaster(img), nil
}

func (a webpAdapter) Encode(ctx context.Context, img *image.NRGBA, opts Options) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if a.encode == nil {
		return nil, encodeError(format.WebP, ErrUnavailable)
	}
	if err := validRaster(img); err != nil {
		return nil, encodeError(format.WebP, err)
	}
	data, err := a.encode(img, percent(opts.Quality, DefaultWebPQuality))
	if err != nil {
		return nil, encodeError(format.WebP, err)
	}
	return data, nil
}

func (a webpAdapter) CanEncode(context.Context) bool {
	return a.encode != nil
}
