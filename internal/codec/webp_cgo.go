//go:build cgo

package codec

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
)

func nativeWebPEncoder() func(image.Image, int) ([]byte, error) {
	return func(img image.Image, quality int) ([]byte, error) {
		var buf bytes.Buffer
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
