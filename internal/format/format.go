package format

import (
	"errors"
	"fmt"
	"strings"
)

// ImageFormat is the canonical name of a supported image container.
type ImageFormat string

const (
	PNG  ImageFormat = "png"
	JPEG ImageFormat = "jpeg"
	WebP ImageFormat = "webp"
	AVIF ImageFormat = "avif"
	GIF  ImageFormat = "gif"
	SVG  ImageFormat = "svg"
	BMP  ImageFormat = "bmp"
	ICO  ImageFormat = "ico"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// All lists the canonical formats in presentation order.
var All = []ImageFormat{PNG, JPEG, WebP, AVIF, GIF, SVG, BMP, ICO}

var mimeTypes = map[ImageFormat]string{
	PNG:  "image/png",
	JPEG: "image/jpeg",
	WebP: "image/webp",
	AVIF: "image/avif",
	GIF:  "image/gif",
	SVG:  "image/svg+xml",
	BMP:  "image/bmp",
	ICO:  "image/x-icon",
}

// Normalize maps a user supplied format string onto its canonical form.
// "jpg" is accepted as an alias for "jpeg"; case and surrounding space are ignored.
func Normalize(in string) (ImageFormat, error) {
	name := strings.ToLower(strings.TrimSpace(in))
	if name == "jpg" {
		return JPEG, nil
	}
	f := ImageFormat(name)
	if _, ok := mimeTypes[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, in)
	}
	return f, nil
}

// IsSupported reports whether in normalizes to a canonical format.
func IsSupported(in string) bool {
	_, err := Normalize(in)
	return err == nil
}

// FromMIME resolves a declared MIME type such as "image/svg+xml" or "image/x-icon".
func FromMIME(mime string) (ImageFormat, error) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	subtype, ok := strings.CutPrefix(mime, "image/")
	if !ok || subtype == "" {
		return "", fmt.Errorf("%w: mime %q", ErrUnsupportedFormat, mime)
	}

	switch subtype {
	case "svg+xml":
		return SVG, nil
	case "x-icon", "vnd.microsoft.icon":
		return ICO, nil
	case "x-ms-bmp", "x-bmp":
		return BMP, nil
	case "pjpeg":
		return JPEG, nil
	}
	return Normalize(subtype)
}

func (f ImageFormat) String() string {
	return string(f)
}

func (f ImageFormat) Valid() bool {
	_, ok := mimeTypes[f]
	return ok
}

// MIMEType returns the content type used when labeling encoded bytes.
func (f ImageFormat) MIMEType() string {
	if mime, ok := mimeTypes[f]; ok {
		return mime
	}
	return "application/octet-stream"
}

// Extension is the file extension (without dot) used for download names.
func (f ImageFormat) Extension() string {
	return string(f)
}

// HasAlpha reports whether the container can carry an alpha channel.
func (f ImageFormat) HasAlpha() bool {
	switch f {
	case JPEG, BMP, ICO:
		return false
	default:
		return true
	}
}
