//go:build govips && cgo

package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/convertify/internal/format"
	"go.uber.org/zap"
)

var (
	startupOnce sync.Once
	lifecycleMu sync.Mutex
	running     bool
)

// Startup initializes libvips for a one-job-at-a-time workload and forwards its
// warnings to logger. Adapters start it lazily with a nop logger when nothing did first.
func Startup(logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	startupOnce.Do(func() {
		vips.LoggingSettings(func(logDomain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logger.Error(msg, zap.String("vips_domain", logDomain))
			default:
				logger.Warn(msg, zap.String("vips_domain", logDomain))
			}
		}, vips.LogLevelWarning)

		// Sized for one job converting at a time.
		vips.Startup(&vips.Config{
			ConcurrencyLevel: 1,
			MaxCacheFiles:    0,
			MaxCacheMem:      16 << 20,
			MaxCacheSize:     8,
		})

		lifecycleMu.Lock()
		running = true
		lifecycleMu.Unlock()
	})
	return nil
}

func Shutdown() {
	lifecycleMu.Lock()
	defer lifecycleMu.Unlock()
	if !running {
		return
	}
	vips.Shutdown()
	running = false
}

// Backend names the codec facility compiled into this binary.
func Backend() string {
	return "libvips"
}

// platformAdapters routes WebP and AVIF through libvips, which links libwebp and libheif.
func platformAdapters() []Adapter {
	return []Adapter{
		&vipsAdapter{format: format.WebP, defaultQuality: DefaultWebPQuality},
		&vipsAdapter{format: format.AVIF, defaultQuality: DefaultAVIFQuality},
	}
}

type vipsAdapter struct {
	format         format.ImageFormat
	defaultQuality float64
}

func (a *vipsAdapter) Format() format.ImageFormat {
	return a.format
}

func (a *vipsAdapter) Decode(ctx context.Context, data []byte) (*image.NRGBA, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	_ = Startup(nil)

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, decodeError(a.format, err)
	}
	defer ref.Close()

	img, err := ref.ToImage(vips.NewDefaultExportParams())
	if err != nil {
		return nil, decodeError(a.format, err)
	}
	return ToRaster(img), nil
}

func (a *vipsAdapter) Encode(ctx context.Context, img *image.NRGBA, opts Options) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := validRaster(img); err != nil {
		return nil, encodeError(a.format, err)
	}
	_ = Startup(nil)

	var staged bytes.Buffer
	if err := imaging.Encode(&staged, img, imaging.PNG); err != nil {
		return nil, encodeError(a.format, fmt.Errorf("stage raster: %w", err))
	}

	ref, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return nil, encodeError(a.format, err)
	}
	defer ref.Close()

	data, err := exportGovipsImage(ref, a.format, percent(opts.Quality, a.defaultQuality))
	if err != nil {
		return nil, encodeError(a.format, err)
	}
	return data, nil
}

// CanEncode probes by exporting a single pixel; libvips builds without libheif fail here.
func (a *vipsAdapter) CanEncode(ctx context.Context) bool {
	probe := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	probe.Pix[3] = 0xFF
	data, err := a.Encode(ctx, probe, Options{})
	return err == nil && len(data) > 0
}

func exportGovipsImage(img *vips.ImageRef, f format.ImageFormat, quality int) ([]byte, error) {
	switch f {
	case format.WebP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("export webp: %w", err)
		}
		return data, nil
	case format.AVIF:
		params := vips.NewAvifExportParams()
		params.Quality = quality
		data, _, err := img.ExportAvif(params)
		if err != nil {
			return nil, fmt.Errorf("export avif: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported vips output format: %s", f)
	}
}
