package codec

import (
	"context"
	"image"

	"github.com/dunamismax/convertify/internal/format"
)

// avifAdapter is the portable AVIF placeholder: nothing in the pure-Go stack reads or
// writes AVIF, so only mislabeled inputs decode and CanEncode is always false. The
// govips backend replaces it with a working adapter.
type avifAdapter struct{}

func newAVIFAdapter() Adapter {
	return avifAdapter{}
}

func (avifAdapter) Format() format.ImageFormat {
	return format.AVIF
}

func (avifAdapter) Decode(ctx context.Context, data []byte) (*image.NRGBA, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	img, err := decodeSniffed(data)
	if err != nil {
		return nil, decodeError(format.AVIF, ErrUnavailable)
	}
	return img, nil
}

func (avifAdapter) Encode(ctx context.Context, _ *image.NRGBA, _ Options) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	return nil, encodeError(format.AVIF, ErrUnavailable)
}

func (avifAdapter) CanEncode(context.Context) bool {
	return false
}
