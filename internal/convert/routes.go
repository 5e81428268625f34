package convert

import (
	"fmt"

	"github.com/dunamismax/convertify/internal/format"
)

// Direction says which side of a pair the owning adapter family sits on.
type Direction string

const (
	// EncodeFrom: the family is the target and encodes from whatever the source decodes to.
	EncodeFrom Direction = "encode_from"
	// DecodeTo: the family is the source and decodes for whatever the target encodes.
	DecodeTo Direction = "decode_to"
	// TwoWay is the dedicated png/jpeg pathway.
	TwoWay Direction = "two_way"
)

// FamilyPNGJPEG names the png/jpeg pathway, which has no single owning format.
const FamilyPNGJPEG = "png_jpeg"

// Route labels the adapter pathway that owns one pair. Every route runs the same
// canonical pipeline (source adapter decodes, target adapter encodes), so the table
// decides which pairs are convertible and how a conversion is reported, not which
// functions run.
type Route struct {
	Family    string
	Direction Direction
}

func (r Route) String() string {
	return fmt.Sprintf("%s/%s", r.Family, r.Direction)
}

// familyPrecedence is checked in order, target first and then source for each family.
var familyPrecedence = []format.ImageFormat{
	format.WebP,
	format.AVIF,
	format.GIF,
	format.SVG,
	format.BMP,
	format.ICO,
}

var routes = buildRoutes()

func buildRoutes() map[format.Pair]Route {
	table := make(map[format.Pair]Route)
	for _, p := range format.AllPairs() {
		if r, ok := resolveRoute(p); ok {
			table[p] = r
		}
	}
	return table
}

func resolveRoute(p format.Pair) (Route, bool) {
	for _, family := range familyPrecedence {
		if p.Target == family {
			return Route{Family: string(family), Direction: EncodeFrom}, true
		}
		if p.Source == family {
			return Route{Family: string(family), Direction: DecodeTo}, true
		}
	}
	if isPNGOrJPEG(p.Source) && isPNGOrJPEG(p.Target) {
		return Route{Family: FamilyPNGJPEG, Direction: TwoWay}, true
	}
	return Route{}, false
}

func isPNGOrJPEG(f format.ImageFormat) bool {
	return f == format.PNG || f == format.JPEG
}

// RouteFor looks up the pathway for p in the static route table.
func RouteFor(p format.Pair) (Route, error) {
	r, ok := routes[p]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnsupportedPair, p.Slug())
	}
	return r, nil
}
