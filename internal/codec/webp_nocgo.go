//go:build !cgo

package codec

import "image"

// WebP export needs libwebp, which is only linked into cgo builds.
func nativeWebPEncoder() func(image.Image, int) ([]byte, error) {
	return nil
}
