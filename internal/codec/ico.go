package codec

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/convertify/internal/format"
	"golang.org/x/image/bmp"
)

// DefaultICOMaxSize bounds both sides of icon output.
const DefaultICOMaxSize = 256

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// icoAdapter writes a downscaled PNG stream labeled as an icon; no ICONDIR is emitted.
// Reading accepts both that PNG stream and real ICO files.
type icoAdapter struct {
	maxSize int
}

func newICOAdapter(maxSize int) Adapter {
	if maxSize <= 0 {
		maxSize = DefaultICOMaxSize
	}
	return icoAdapter{maxSize: maxSize}
}

func (icoAdapter) Format() format.ImageFormat {
	return format.ICO
}

func (icoAdapter) Decode(ctx context.Context, data []byte) (*image.NRGBA, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, pngSignature) {
		img, err := decodeSniffed(data)
		if err != nil {
			return nil, decodeError(format.ICO, err)
		}
		return img, nil
	}

	img, err := decodeIconDir(data)
	if err != nil {
		return nil, decodeError(format.ICO, err)
	}
	return img, nil
}

func (a icoAdapter) Encode(ctx context.Context, img *image.NRGBA, _ Options) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := validRaster(img); err != nil {
		return nil, encodeError(format.ICO, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, FitWithin(img, a.maxSize), imaging.PNG); err != nil {
		return nil, encodeError(format.ICO, err)
	}
	return buf.Bytes(), nil
}

func (icoAdapter) CanEncode(context.Context) bool {
	return true
}

const (
	iconDirLen      = 6
	iconDirEntryLen = 16
)

type iconDirEntry struct {
	width  int
	height int
	bpp    uint16
	size   uint32
	offset uint32
}

// decodeIconDir picks the largest entry of an ICONDIR and decodes its PNG or DIB payload.
func decodeIconDir(data []byte) (*image.NRGBA, error) {
	if len(data) < iconDirLen {
		return nil, errors.New("icon header truncated")
	}
	if binary.LittleEndian.Uint16(data[0:2]) != 0 || binary.LittleEndian.Uint16(data[2:4]) != 1 {
		return nil, errors.New("not an icon resource")
	}
	count := int(binary.LittleEndian.Uint16(data[4:6]))
	if count == 0 || len(data) < iconDirLen+count*iconDirEntryLen {
		return nil, errors.New("icon directory truncated")
	}

	var best iconDirEntry
	for i := 0; i < count; i++ {
		raw := data[iconDirLen+i*iconDirEntryLen:]
		e := iconDirEntry{
			width:  int(raw[0]),
			height: int(raw[1]),
			bpp:    binary.LittleEndian.Uint16(raw[6:8]),
			size:   binary.LittleEndian.Uint32(raw[8:12]),
			offset: binary.LittleEndian.Uint32(raw[12:16]),
		}
		if e.width == 0 {
			e.width = 256
		}
		if e.height == 0 {
			e.height = 256
		}
		area, bestArea := e.width*e.height, best.width*best.height
		if area > bestArea || (area == bestArea && e.bpp > best.bpp) {
			best = e
		}
	}

	end := uint64(best.offset) + uint64(best.size)
	if best.size == 0 || end > uint64(len(data)) {
		return nil, errors.New("icon entry out of range")
	}
	payload := data[best.offset:end]

	if bytes.HasPrefix(payload, pngSignature) {
		return decodeSniffed(payload)
	}
	return decodeIconDIB(payload)
}

// decodeIconDIB handles the BITMAPINFOHEADER variant stored in icons, whose height
// counts both the color rows and the trailing AND mask.
func decodeIconDIB(dib []byte) (*image.NRGBA, error) {
	if len(dib) < 40 {
		return nil, errors.New("icon bitmap header truncated")
	}
	headerLen := binary.LittleEndian.Uint32(dib[0:4])
	width := int(int32(binary.LittleEndian.Uint32(dib[4:8])))
	height := int(int32(binary.LittleEndian.Uint32(dib[8:12]))) / 2
	bpp := binary.LittleEndian.Uint16(dib[14:16])
	if width <= 0 || height <= 0 || headerLen < 40 || int(headerLen) > len(dib) {
		return nil, fmt.Errorf("invalid icon bitmap %dx%d", width, height)
	}

	if bpp == 32 {
		return decodeBGRA(dib[headerLen:], width, height)
	}

	// Rebuild a standalone BMP so the x/image reader can handle paletted and 24-bit entries.
	colors := binary.LittleEndian.Uint32(dib[32:36])
	if colors == 0 && bpp <= 8 {
		colors = 1 << bpp
	}
	pixelOffset := 14 + headerLen + colors*4

	patched := make([]byte, len(dib))
	copy(patched, dib)
	binary.LittleEndian.PutUint32(patched[8:12], uint32(height))

	var file bytes.Buffer
	file.WriteString("BM")
	_ = binary.Write(&file, binary.LittleEndian, uint32(14+len(patched)))
	_ = binary.Write(&file, binary.LittleEndian, uint32(0))
	_ = binary.Write(&file, binary.LittleEndian, pixelOffset)
	file.Write(patched)

	img, err := bmp.Decode(&file)
	if err != nil {
		return nil, err
	}
	return ToRaster(img), nil
}

// decodeBGRA reads bottom-up 32-bit rows, keeping the per-pixel alpha.
func decodeBGRA(pixels []byte, width, height int) (*image.NRGBA, error) {
	stride := width * 4
	if len(pixels) < stride*height {
		return nil, errors.New("icon bitmap pixels truncated")
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	hasAlpha := false
	for y := 0; y < height; y++ {
		src := pixels[(height-1-y)*stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			b, g, r, a := src[x*4], src[x*4+1], src[x*4+2], src[x*4+3]
			dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = r, g, b, a
			hasAlpha = hasAlpha || a != 0
		}
	}

	// Legacy icons leave the alpha byte zeroed and rely on the AND mask instead.
	if !hasAlpha {
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = 0xFF
		}
	}
	return img, nil
}
