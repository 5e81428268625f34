package codec

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/convertify/internal/format"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
)

const (
	DefaultSVGScale = 2.0

	// Browsers size an SVG without width, height or viewBox at 300x150.
	defaultSVGWidth  = 300
	defaultSVGHeight = 150

	maxSVGCanvasSide = 16384
)

// svgAdapter never vectorizes: encoding embeds the raster as a PNG data URI and decoding
// rasterizes the document at scale times its declared size.
type svgAdapter struct {
	scale float64
}

func newSVGAdapter(scale float64) Adapter {
	if scale <= 0 {
		scale = DefaultSVGScale
	}
	return svgAdapter{scale: scale}
}

func (svgAdapter) Format() format.ImageFormat {
	return format.SVG
}

func (svgAdapter) CanEncode(context.Context) bool {
	return true
}

func (svgAdapter) Encode(ctx context.Context, img *image.NRGBA, _ Options) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := validRaster(img); err != nil {
		return nil, encodeError(format.SVG, err)
	}

	var raster bytes.Buffer
	if err := imaging.Encode(&raster, img, imaging.PNG); err != nil {
		return nil, encodeError(format.SVG, err)
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n", w, h, w, h)
	fmt.Fprintf(&buf, `  <image x="0" y="0" width="%d" height="%d" href="data:image/png;base64,%s"/>`+"\n",
		w, h, base64.StdEncoding.EncodeToString(raster.Bytes()))
	buf.WriteString("</svg>\n")
	return buf.Bytes(), nil
}

func (a svgAdapter) Decode(ctx context.Context, data []byte) (*image.NRGBA, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	doc, err := parseSVG(data)
	if err != nil {
		return nil, decodeError(format.SVG, err)
	}

	cw := int(math.Round(doc.width * a.scale))
	ch := int(math.Round(doc.height * a.scale))
	if cw <= 0 || ch <= 0 || cw > maxSVGCanvasSide || ch > maxSVGCanvasSide {
		return nil, decodeError(format.SVG, fmt.Errorf("canvas %dx%d out of range", cw, ch))
	}

	canvas := image.NewRGBA(image.Rect(0, 0, cw, ch))
	sx := float64(cw) / doc.viewBox.w
	sy := float64(ch) / doc.viewBox.h

	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		if len(doc.images) == 0 {
			return nil, decodeError(format.SVG, err)
		}
		icon = nil
	} else {
		icon.ViewBox.X, icon.ViewBox.Y = doc.viewBox.x, doc.viewBox.y
		icon.ViewBox.W, icon.ViewBox.H = doc.viewBox.w, doc.viewBox.h
		icon.SetTarget(0, 0, float64(cw), float64(ch))
	}

	// Paths and embedded images are painted in document order.
	var dasher *rasterx.Dasher
	drawn := 0
	drawPaths := func(upTo int) {
		if icon == nil {
			return
		}
		if dasher == nil {
			dasher = rasterx.NewDasher(cw, ch, rasterx.NewScannerGV(cw, ch, canvas, canvas.Bounds()))
		}
		upTo = min(upTo, len(icon.SVGPaths))
		for ; drawn < upTo; drawn++ {
			icon.SVGPaths[drawn].DrawTransformed(dasher, 1.0, icon.Transform)
		}
	}

	for _, emb := range doc.images {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		if icon != nil {
			drawPaths(pathsBefore(data, emb, len(icon.SVGPaths)))
		}
		src, err := decodeDataURI(emb.href)
		if err != nil {
			continue
		}
		w, h := emb.w, emb.h
		if w <= 0 || h <= 0 {
			w, h = float64(src.Bounds().Dx()), float64(src.Bounds().Dy())
		}
		dst := image.Rect(
			int(math.Round((emb.x-doc.viewBox.x)*sx)),
			int(math.Round((emb.y-doc.viewBox.y)*sy)),
			int(math.Round((emb.x-doc.viewBox.x+w)*sx)),
			int(math.Round((emb.y-doc.viewBox.y+h)*sy)),
		)
		xdraw.CatmullRom.Scale(canvas, dst, src, src.Bounds(), xdraw.Over, nil)
	}
	if icon != nil {
		drawPaths(len(icon.SVGPaths))
	}

	return ToRaster(canvas), nil
}

type svgBox struct {
	x, y, w, h float64
}

type svgImage struct {
	x, y, w, h float64
	href       string

	// offset is where the element starts in the document; open holds its ancestors.
	offset int64
	open   []string
}

type svgDocument struct {
	width, height float64
	viewBox       svgBox
	images        []svgImage
}

func parseSVG(data []byte) (svgDocument, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	var (
		doc     svgDocument
		rootSet bool
		open    []string
	)
	for {
		offset := dec.InputOffset()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return svgDocument{}, fmt.Errorf("parse svg: %w", err)
		}

		var el xml.StartElement
		switch t := tok.(type) {
		case xml.StartElement:
			el = t
		case xml.EndElement:
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
			continue
		default:
			continue
		}
		switch {
		case !rootSet:
			if el.Name.Local != "svg" {
				return svgDocument{}, fmt.Errorf("root element is <%s>, not <svg>", el.Name.Local)
			}
			doc.width = parseLength(attr(el, "width"))
			doc.height = parseLength(attr(el, "height"))
			doc.viewBox = parseViewBox(attr(el, "viewBox"))
			rootSet = true
		case el.Name.Local == "image":
			doc.images = append(doc.images, svgImage{
				x:      parseLength(attr(el, "x")),
				y:      parseLength(attr(el, "y")),
				w:      parseLength(attr(el, "width")),
				h:      parseLength(attr(el, "height")),
				href:   attr(el, "href"),
				offset: offset,
				open:   append([]string(nil), open...),
			})
		}
		open = append(open, el.Name.Local)
	}
	if !rootSet {
		return svgDocument{}, errors.New("no <svg> element")
	}

	resolveSVGSize(&doc)
	return doc, nil
}

// pathsBefore counts the vector paths oksvg compiles ahead of img by parsing the document
// cut at img's start tag. An unparseable prefix puts the image above every path.
func pathsBefore(data []byte, img svgImage, total int) int {
	if img.offset <= 0 || img.offset > int64(len(data)) {
		return total
	}
	var buf bytes.Buffer
	buf.Write(data[:img.offset])
	for i := len(img.open) - 1; i >= 0; i-- {
		fmt.Fprintf(&buf, "</%s>", img.open[i])
	}
	prefix, err := oksvg.ReadIconStream(&buf, oksvg.IgnoreErrorMode)
	if err != nil {
		return total
	}
	return len(prefix.SVGPaths)
}

func resolveSVGSize(doc *svgDocument) {
	vb := doc.viewBox
	switch {
	case doc.width > 0 && doc.height > 0:
	case doc.width > 0 && vb.w > 0 && vb.h > 0:
		doc.height = doc.width * vb.h / vb.w
	case doc.height > 0 && vb.w > 0 && vb.h > 0:
		doc.width = doc.height * vb.w / vb.h
	case vb.w > 0 && vb.h > 0:
		doc.width, doc.height = vb.w, vb.h
	default:
		doc.width, doc.height = defaultSVGWidth, defaultSVGHeight
	}
	if vb.w <= 0 || vb.h <= 0 {
		doc.viewBox = svgBox{w: doc.width, h: doc.height}
	}
}

// attr matches on local name so both href and xlink:href are found.
func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

// parseLength accepts unitless and px lengths; anything relative resolves to 0.
func parseLength(v string) float64 {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

func parseViewBox(v string) svgBox {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' || r == '\n' })
	if len(fields) != 4 {
		return svgBox{}
	}
	var nums [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return svgBox{}
		}
		nums[i] = n
	}
	if nums[2] <= 0 || nums[3] <= 0 {
		return svgBox{}
	}
	return svgBox{x: nums[0], y: nums[1], w: nums[2], h: nums[3]}
}

func decodeDataURI(href string) (*image.NRGBA, error) {
	rest, ok := strings.CutPrefix(href, "data:")
	if !ok {
		return nil, errors.New("not a data uri")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("malformed data uri")
	}

	var raw []byte
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(payload), ""))
		if err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		raw = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("unescape payload: %w", err)
		}
		raw = []byte(unescaped)
	}
	return decodeSniffed(raw)
}
