package convert

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/dunamismax/convertify/internal/codec"
	"github.com/dunamismax/convertify/internal/detect"
	"github.com/dunamismax/convertify/internal/domain"
	"github.com/dunamismax/convertify/internal/format"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrUnsupportedPair = errors.New("unsupported conversion pair")
	ErrDecode          = codec.ErrDecode
	ErrEncode          = codec.ErrEncode
)

// Options holds the per-format encode qualities on a 0.0-1.0 scale. Zero picks the default.
type Options struct {
	JPEGQuality float64
	WebPQuality float64
	AVIFQuality float64
}

func (o Options) quality(f format.ImageFormat) float64 {
	switch f {
	case format.JPEG:
		return orDefault(o.JPEGQuality, codec.DefaultJPEGQuality)
	case format.WebP:
		return orDefault(o.WebPQuality, codec.DefaultWebPQuality)
	case format.AVIF:
		return orDefault(o.AVIFQuality, codec.DefaultAVIFQuality)
	default:
		return 0
	}
}

func orDefault(v, fallback float64) float64 {
	if v <= 0 || v > 1 {
		return fallback
	}
	return v
}

// Result is a finished conversion. Format and MIMEType describe the bytes actually
// produced, which differ from the requested target when UsedFallback is set. Width and
// Height are the decoded raster's; ICO output may be smaller.
type Result struct {
	Data         []byte
	Format       format.ImageFormat
	MIMEType     string
	UsedFallback format.ImageFormat
	Route        Route
	Width        int
	Height       int
}

// Fallback reports whether the output was produced by a substitute encoder.
func (r Result) Fallback() bool {
	return r.UsedFallback != ""
}

type Dispatcher struct {
	registry *codec.Registry
	opts     Options
	tracer   trace.Tracer
}

func NewDispatcher(registry *codec.Registry, opts Options) *Dispatcher {
	if registry == nil {
		registry = codec.NewRegistry(codec.RegistryConfig{})
	}
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		tracer:   otel.Tracer("convertify/convert"),
	}
}

// Registry exposes the adapters the dispatcher converts with.
func (d *Dispatcher) Registry() *codec.Registry {
	return d.registry
}

// Convert decodes data as pair.Source into the canonical raster and encodes it as pair.Target.
func (d *Dispatcher) Convert(ctx context.Context, pair format.Pair, data []byte) (Result, error) {
	route, err := RouteFor(pair)
	if err != nil {
		return Result{}, err
	}

	ctx, span := d.tracer.Start(ctx, "convert.dispatch", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("convert.pair", pair.Slug()),
		attribute.String("convert.route", route.String()),
		attribute.Int("convert.input_bytes", len(data)),
	)
	defer span.End()

	out, err := d.run(ctx, pair, route, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return Result{}, err
	}

	span.SetAttributes(
		attribute.String("convert.output_format", string(out.Format)),
		attribute.Int("convert.output_bytes", len(out.Data)),
	)
	if out.Fallback() {
		span.SetAttributes(attribute.String("convert.fallback", string(out.UsedFallback)))
	}
	span.SetStatus(codes.Ok, "converted")
	return out, nil
}

func (d *Dispatcher) run(ctx context.Context, pair format.Pair, route Route, data []byte) (Result, error) {
	source, err := d.registry.Adapter(pair.Source)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnsupportedPair, err)
	}

	raster, err := source.Decode(ctx, data)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	target := pair.Target
	var fallback format.ImageFormat
	if target == format.AVIF && !d.registry.CanEncode(ctx, format.AVIF) {
		target, fallback = format.WebP, format.WebP
	}

	encoder, err := d.registry.Adapter(target)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnsupportedPair, err)
	}

	raster = applyTransparencyPolicy(raster, target)
	encoded, err := encoder.Encode(ctx, raster, codec.Options{Quality: d.opts.quality(target)})
	if err != nil {
		return Result{}, err
	}
	if len(encoded) == 0 {
		return Result{}, fmt.Errorf("%w: %s: encoder returned no output", ErrEncode, target)
	}

	return Result{
		Data:         encoded,
		Format:       target,
		MIMEType:     target.MIMEType(),
		UsedFallback: fallback,
		Route:        route,
		Width:        raster.Bounds().Dx(),
		Height:       raster.Bounds().Dy(),
	}, nil
}

// applyTransparencyPolicy flattens onto white when the target container has no alpha channel.
func applyTransparencyPolicy(img *image.NRGBA, target format.ImageFormat) *image.NRGBA {
	if target.HasAlpha() || codec.IsOpaque(img) {
		return img
	}
	return codec.Flatten(img)
}

// KindOf classifies err for display on a failed job.
func KindOf(err error) domain.ErrorKind {
	var kinded interface{ Kind() domain.ErrorKind }
	switch {
	case err == nil:
		return domain.ErrorKindNone
	case errors.Is(err, context.Canceled):
		return domain.ErrorKindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorKindTimeout
	case errors.As(err, &kinded):
		return kinded.Kind()
	case errors.Is(err, detect.ErrUnknownFormat):
		return domain.ErrorKindUnknownFormat
	case errors.Is(err, ErrUnsupportedPair), errors.Is(err, format.ErrInvalidPair), errors.Is(err, format.ErrUnsupportedFormat):
		return domain.ErrorKindUnsupportedPair
	case errors.Is(err, ErrDecode):
		return domain.ErrorKindDecode
	default:
		return domain.ErrorKindEncode
	}
}
