package codec

import (
	"bytes"
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/convertify/internal/format"
)

const (
	DefaultJPEGQuality = 0.92
	DefaultWebPQuality = 0.92
	DefaultAVIFQuality = 0.8
)

// stdAdapter covers the containers imaging can both read and write: PNG, JPEG, GIF and BMP.
type stdAdapter struct {
	format   format.ImageFormat
	encoding imaging.Format
}

func newPNGAdapter() Adapter  { return stdAdapter{format: format.PNG, encoding: imaging.PNG} }
func newJPEGAdapter() Adapter { return stdAdapter{format: format.JPEG, encoding: imaging.JPEG} }
func newGIFAdapter() Adapter  { return stdAdapter{format: format.GIF, encoding: imaging.GIF} }
func newBMPAdapter() Adapter  { return stdAdapter{format: format.BMP, encoding: imaging.BMP} }

func (a stdAdapter) Format() format.ImageFormat {
	return a.format
}

// Decode sniffs the content rather than trusting the declared container, so a
// mislabeled upload still decodes as long as its real format is readable.
func (a stdAdapter) Decode(ctx context.Context, data []byte) (*image.NRGBA, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	img, err := decodeSniffed(data)
	if err != nil {
		return nil, decodeError(a.format, err)
	}
	return img, nil
}

func (a stdAdapter) Encode(ctx context.Context, img *image.NRGBA, opts Options) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := validRaster(img); err != nil {
		return nil, encodeError(a.format, err)
	}

	var encodeOpts []imaging.EncodeOption
	if a.encoding == imaging.JPEG {
		encodeOpts = append(encodeOpts, imaging.JPEGQuality(percent(opts.Quality, DefaultJPEGQuality)))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, a.encoding, encodeOpts...); err != nil {
		return nil, encodeError(a.format, err)
	}
	return buf.Bytes(), nil
}

func (a stdAdapter) CanEncode(context.Context) bool {
	return true
}
