package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/convertify/internal/codec"
	"github.com/dunamismax/convertify/internal/detect"
	"github.com/dunamismax/convertify/internal/domain"
	"github.com/dunamismax/convertify/internal/format"
	"golang.org/x/image/bmp"
)

func TestEveryPairResolvesToOneRoute(t *testing.T) {
	pairs := format.AllPairs()
	if len(routes) != len(pairs) {
		t.Fatalf("route table has %d entries, want %d", len(routes), len(pairs))
	}
	for _, p := range pairs {
		r, err := RouteFor(p)
		if err != nil {
			t.Fatalf("no route for %s: %v", p, err)
		}
		switch r.Direction {
		case EncodeFrom:
			if r.Family != string(p.Target) {
				t.Fatalf("%s: encode_from route owned by %s", p, r.Family)
			}
		case DecodeTo:
			if r.Family != string(p.Source) {
				t.Fatalf("%s: decode_to route owned by %s", p, r.Family)
			}
		case TwoWay:
			if !isPNGOrJPEG(p.Source) || !isPNGOrJPEG(p.Target) {
				t.Fatalf("%s: two_way route outside png/jpeg", p)
			}
		default:
			t.Fatalf("%s: unexpected direction %q", p, r.Direction)
		}
	}
}

func TestRoutePrecedence(t *testing.T) {
	cases := []struct {
		slug string
		want Route
	}{
		{slug: "png-webp", want: Route{Family: "webp", Direction: EncodeFrom}},
		{slug: "avif-webp", want: Route{Family: "webp", Direction: EncodeFrom}},
		{slug: "webp-avif", want: Route{Family: "webp", Direction: DecodeTo}},
		{slug: "gif-avif", want: Route{Family: "avif", Direction: EncodeFrom}},
		{slug: "avif-gif", want: Route{Family: "avif", Direction: DecodeTo}},
		{slug: "svg-ico", want: Route{Family: "svg", Direction: DecodeTo}},
		{slug: "ico-bmp", want: Route{Family: "bmp", Direction: EncodeFrom}},
		{slug: "jpeg-ico", want: Route{Family: "ico", Direction: EncodeFrom}},
		{slug: "png-jpeg", want: Route{Family: FamilyPNGJPEG, Direction: TwoWay}},
		{slug: "jpg-png", want: Route{Family: FamilyPNGJPEG, Direction: TwoWay}},
	}
	for _, tc := range cases {
		p, err := format.ParseSlug(tc.slug)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.slug, err)
		}
		got, err := RouteFor(p)
		if err != nil {
			t.Fatalf("route %s: %v", tc.slug, err)
		}
		if got != tc.want {
			t.Fatalf("route %s = %s, want %s", tc.slug, got, tc.want)
		}
	}
}

func TestConvertRejectsUnroutablePair(t *testing.T) {
	d := NewDispatcher(nil, Options{})
	for _, p := range []format.Pair{
		{Source: format.PNG, Target: format.PNG},
		{Source: "tiff", Target: format.PNG},
	} {
		_, err := d.Convert(context.Background(), p, buildPNG(t, 2, 2, 255))
		if !errors.Is(err, ErrUnsupportedPair) {
			t.Fatalf("%s: expected ErrUnsupportedPair, got %v", p, err)
		}
		if KindOf(err) != domain.ErrorKindUnsupportedPair {
			t.Fatalf("%s: unexpected kind %s", p, KindOf(err))
		}
	}
}

func TestConvertOpaquePNGToJPEG(t *testing.T) {
	d := NewDispatcher(nil, Options{})

	out, err := d.Convert(context.Background(), format.DefaultPair, buildPNG(t, 500, 500, 255))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.Format != format.JPEG || out.MIMEType != "image/jpeg" || out.Fallback() {
		t.Fatalf("unexpected result labeling: %+v", out.Route)
	}
	if !bytes.HasPrefix(out.Data, []byte{0xFF, 0xD8, 0xFF}) {
		t.Fatal("output is not a JPEG stream")
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode jpeg config: %v", err)
	}
	if cfg.Width != 500 || cfg.Height != 500 {
		t.Fatalf("expected 500x500, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestConvertFlattensTransparencyForOpaqueTargets(t *testing.T) {
	d := NewDispatcher(nil, Options{})
	src := buildPNG(t, 4, 4, 0)

	out, err := d.Convert(context.Background(), format.Pair{Source: format.PNG, Target: format.BMP}, src)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	img, err := bmp.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode bmp: %v", err)
	}
	r, g, b, a := img.At(1, 1).RGBA()
	if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 || a>>8 != 255 {
		t.Fatalf("expected white, got %d %d %d %d", r>>8, g>>8, b>>8, a>>8)
	}

	out, err = d.Convert(context.Background(), format.DefaultPair, src)
	if err != nil {
		t.Fatalf("convert jpeg: %v", err)
	}
	img, err = jpeg.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	r, g, b, _ = img.At(1, 1).RGBA()
	if r>>8 < 245 || g>>8 < 245 || b>>8 < 245 {
		t.Fatalf("expected near white, got %d %d %d", r>>8, g>>8, b>>8)
	}
}

func TestConvertKeepsAlphaForAlphaTargets(t *testing.T) {
	d := NewDispatcher(nil, Options{})

	out, err := d.Convert(context.Background(), format.Pair{Source: format.JPEG, Target: format.PNG}, mustConvertToJPEG(t, d))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.Format != format.PNG {
		t.Fatalf("unexpected format %s", out.Format)
	}

	svg, err := d.Convert(context.Background(), format.Pair{Source: format.PNG, Target: format.SVG}, buildPNG(t, 4, 4, 0))
	if err != nil {
		t.Fatalf("convert svg: %v", err)
	}
	out, err = d.Convert(context.Background(), format.Pair{Source: format.SVG, Target: format.PNG}, svg.Data)
	if err != nil {
		t.Fatalf("convert svg back: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Fatalf("svg should rasterize at 2x, got %v", img.Bounds())
	}
	if _, _, _, a := img.At(3, 3).RGBA(); a != 0 {
		t.Fatalf("transparency should survive png -> svg -> png, alpha=%d", a)
	}
}

func TestConvertFallsBackToWebPWhenAVIFUnavailable(t *testing.T) {
	reg := codec.NewRegistry(codec.RegistryConfig{})
	webp := &fakeAdapter{f: format.WebP, out: []byte("RIFF\x00\x00\x00\x00WEBPVP8 ")}
	reg.Replace(webp)
	reg.Replace(&fakeAdapter{f: format.AVIF})

	d := NewDispatcher(reg, Options{})
	out, err := d.Convert(context.Background(), format.Pair{Source: format.PNG, Target: format.AVIF}, buildPNG(t, 10, 10, 255))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.UsedFallback != format.WebP || !out.Fallback() {
		t.Fatalf("expected webp fallback, got %q", out.UsedFallback)
	}
	if out.Format != format.WebP || out.MIMEType != "image/webp" {
		t.Fatalf("fallback output must be labeled webp, got %s %s", out.Format, out.MIMEType)
	}
	if out.Route != (Route{Family: "avif", Direction: EncodeFrom}) {
		t.Fatalf("unexpected route %s", out.Route)
	}
	if webp.quality != codec.DefaultWebPQuality {
		t.Fatalf("fallback encoded at quality %v", webp.quality)
	}
}

func TestConvertEmptyEncoderOutputIsEncodeError(t *testing.T) {
	reg := codec.NewRegistry(codec.RegistryConfig{})
	reg.Replace(&fakeAdapter{f: format.GIF, canEncode: true})

	d := NewDispatcher(reg, Options{})
	_, err := d.Convert(context.Background(), format.Pair{Source: format.PNG, Target: format.GIF}, buildPNG(t, 3, 3, 255))
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
	if KindOf(err) != domain.ErrorKindEncode {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
}

func TestConvertUnreadableSourceIsDecodeError(t *testing.T) {
	d := NewDispatcher(nil, Options{})
	_, err := d.Convert(context.Background(), format.DefaultPair, []byte("not a png"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if KindOf(err) != domain.ErrorKindDecode {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
}

func TestConvertHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDispatcher(nil, Options{}).Convert(ctx, format.DefaultPair, buildPNG(t, 2, 2, 255))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if KindOf(err) != domain.ErrorKindCanceled {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want domain.ErrorKind
	}{
		{err: nil, want: domain.ErrorKindNone},
		{err: fmt.Errorf("detect: %w", detect.ErrUnknownFormat), want: domain.ErrorKindUnknownFormat},
		{err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), want: domain.ErrorKindTimeout},
		{err: kindedError{kind: domain.ErrorKindArchiveBuild}, want: domain.ErrorKindArchiveBuild},
		{err: errors.New("anything else"), want: domain.ErrorKindEncode},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

type kindedError struct {
	kind domain.ErrorKind
}

func (e kindedError) Error() string          { return string(e.kind) }
func (e kindedError) Kind() domain.ErrorKind { return e.kind }

type fakeAdapter struct {
	f         format.ImageFormat
	out       []byte
	canEncode bool
	quality   float64
}

func (a *fakeAdapter) Format() format.ImageFormat { return a.f }

func (a *fakeAdapter) Decode(context.Context, []byte) (*image.NRGBA, error) {
	return nil, codec.ErrUnavailable
}

func (a *fakeAdapter) Encode(_ context.Context, _ *image.NRGBA, opts codec.Options) ([]byte, error) {
	a.quality = opts.Quality
	return a.out, nil
}

func (a *fakeAdapter) CanEncode(context.Context) bool {
	return a.canEncode || len(a.out) > 0
}

func mustConvertToJPEG(t *testing.T, d *Dispatcher) []byte {
	t.Helper()

	out, err := d.Convert(context.Background(), format.DefaultPair, buildPNG(t, 16, 9, 255))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	return out.Data
}

func buildPNG(t *testing.T, w, h int, alpha uint8) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 11), B: 90, A: alpha})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
