package detect

import (
	"bytes"
	"errors"

	"github.com/dunamismax/convertify/internal/domain"
	"github.com/dunamismax/convertify/internal/format"
)

var ErrUnknownFormat = errors.New("unknown image format")

// Method records which check classified the input.
type Method string

const (
	MethodExtension Method = "extension"
	MethodMIME      Method = "mime"
	MethodSignature Method = "signature"
)

// Result is a successful classification.
type Result struct {
	Format format.ImageFormat
	Method Method
}

// sniffLen is how many leading bytes the signature scan looks at.
const sniffLen = 12

var (
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicGIF  = []byte{0x47, 0x49, 0x46, 0x38}
	magicRIFF = []byte("RIFF")
	magicWEBP = []byte("WEBP")
	magicBMP  = []byte{0x42, 0x4D}
)

// Detect classifies data using, in order, the declared file extension, the declared
// MIME type and finally a magic-byte scan. AVIF, SVG and ICO carry no signature check
// and are recognized only through name or MIME.
func Detect(data []byte, declaredName, declaredMIME string) (Result, error) {
	if ext := (domain.ImageBytes{Name: declaredName}).Extension(); ext != "" {
		if f, err := format.Normalize(ext); err == nil {
			return Result{Format: f, Method: MethodExtension}, nil
		}
	}

	if declaredMIME != "" {
		if f, err := format.FromMIME(declaredMIME); err == nil {
			return Result{Format: f, Method: MethodMIME}, nil
		}
	}

	if f, ok := Sniff(data); ok {
		return Result{Format: f, Method: MethodSignature}, nil
	}

	return Result{}, ErrUnknownFormat
}

// DetectImage runs Detect over an ImageBytes value.
func DetectImage(img domain.ImageBytes) (format.ImageFormat, error) {
	res, err := Detect(img.Data, img.Name, img.MIMEType)
	if err != nil {
		return "", err
	}
	return res.Format, nil
}

// Sniff inspects only the leading signature bytes.
func Sniff(data []byte) (format.ImageFormat, bool) {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}

	switch {
	case bytes.HasPrefix(head, magicPNG):
		return format.PNG, true
	case bytes.HasPrefix(head, magicJPEG):
		return format.JPEG, true
	case bytes.HasPrefix(head, magicGIF):
		return format.GIF, true
	case len(head) >= sniffLen && bytes.HasPrefix(head, magicRIFF) && bytes.Equal(head[8:12], magicWEBP):
		return format.WebP, true
	case bytes.HasPrefix(head, magicBMP):
		return format.BMP, true
	}
	return "", false
}
