package overpass

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// BBox is an Overpass bounding box in south, west, north, east order.
type BBox struct {
	South float64 `mapstructure:"south"`
	West  float64 `mapstructure:"west"`
	North float64 `mapstructure:"north"`
	East  float64 `mapstructure:"east"`
}

// String formats the box the way Overpass QL expects it.
func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.South, b.West, b.North, b.East)
}

// Validate checks ordering and coordinate ranges.
func (b BBox) Validate() error {
	if b.South < -90 || b.North > 90 || b.West < -180 || b.East > 180 {
		return eris.Errorf("overpass: bbox %s out of range", b)
	}
	if b.South >= b.North || b.West >= b.East {
		return eris.Errorf("overpass: bbox %s is empty or inverted", b)
	}
	return nil
}

// Query describes an amenity search inside a bounding box.
type Query struct {
	BBox         BBox
	Amenities    []string
	ElementTypes []string
	TimeoutSecs  int
}

// DefaultAmenities are the amenity values fetched when none are configured.
var DefaultAmenities = []string{"atm", "bank"}

// DefaultElementTypes cover ATMs mapped as points and banks mapped as buildings.
var DefaultElementTypes = []string{"node", "way"}

// Build renders the Overpass QL text. Ways are returned with their centroid
// ("out center") so every element carries a coordinate.
func (q Query) Build() string {
	amenities := q.Amenities
	if len(amenities) == 0 {
		amenities = DefaultAmenities
	}
	types := q.ElementTypes
	if len(types) == 0 {
		types = DefaultElementTypes
	}
	timeout := q.TimeoutSecs
	if timeout <= 0 {
		timeout = 60
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d];\n(\n", timeout)
	for _, a := range amenities {
		for _, t := range types {
			fmt.Fprintf(&sb, "  %s[\"amenity\"=%q](%s);\n", t, a, q.BBox)
		}
	}
	sb.WriteString(");\nout center tags;\n")
	return sb.String()
}
