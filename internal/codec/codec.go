package codec

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/dunamismax/convertify/internal/format"
)

var (
	ErrDecode      = errors.New("decode failed")
	ErrEncode      = errors.New("encode failed")
	ErrUnavailable = errors.New("codec unavailable")
)

// Options tune a single encode call.
type Options struct {
	// Quality is on a 0.0-1.0 scale. Zero selects the adapter default.
	Quality float64
}

// Adapter decodes one container format into the canonical raster and encodes it back.
type Adapter interface {
	Format() format.ImageFormat
	Decode(ctx context.Context, data []byte) (*image.NRGBA, error)
	Encode(ctx context.Context, img *image.NRGBA, opts Options) ([]byte, error)
	// CanEncode probes whether Encode can produce output on this host.
	CanEncode(ctx context.Context) bool
}

// percent maps a 0.0-1.0 quality onto the 1-100 scale the encoders take.
func percent(quality, fallback float64) int {
	if quality <= 0 || quality > 1 {
		quality = fallback
	}
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return q
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func decodeError(f format.ImageFormat, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDecode, f, err)
}

func encodeError(f format.ImageFormat, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEncode, f, err)
}
