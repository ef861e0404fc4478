// Package district assigns administrative districts to coordinates by
// point-in-polygon lookup against a boundary collection.
package district

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
	"go.uber.org/zap"
)

// NameProperties is the priority list of property keys holding a district
// name. GADM exports use NAME_2; Vietnamese datasets often use TEN_QH.
var NameProperties = []string{"NAME_2", "name_2", "NAME2", "TEN_QH", "district", "name"}

// Boundary is one district polygon with its source properties.
type Boundary struct {
	ID         string
	Geometry   geom.T
	Properties map[string]interface{}
}

// Name extracts the district name from the properties. Exact keys are tried
// in priority order first, then the same keys case-insensitively.
func (b Boundary) Name() (string, bool) {
	for _, key := range NameProperties {
		if s, ok := propString(b.Properties[key]); ok {
			return s, true
		}
	}
	for _, key := range NameProperties {
		for k, v := range b.Properties {
			if strings.EqualFold(k, key) {
				if s, ok := propString(v); ok {
					return s, true
				}
			}
		}
	}
	return "", false
}

func propString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return fmt.Sprintf("%g", t), true
	default:
		s := strings.TrimSpace(fmt.Sprint(t))
		return s, s != ""
	}
}

// Classifier answers district lookups for a fixed boundary collection.
type Classifier struct {
	boundaries []Boundary
	bounds     []*geom.Bounds
	log        *zap.Logger
}

// NewClassifier builds a classifier. Collection order is the tie-break for
// overlapping polygons.
func NewClassifier(boundaries []Boundary) *Classifier {
	c := &Classifier{
		boundaries: boundaries,
		bounds:     make([]*geom.Bounds, len(boundaries)),
		log:        zap.L().With(zap.String("component", "district")),
	}
	for i, b := range boundaries {
		c.bounds[i] = safeBounds(b.Geometry)
	}
	return c
}

// Len returns the number of boundaries.
func (c *Classifier) Len() int {
	if c == nil {
		return 0
	}
	return len(c.boundaries)
}

// Classify returns the district containing (lat, lng). The first containing
// boundary wins; its name may still be absent if no name property is set.
func (c *Classifier) Classify(lat, lng float64) (string, bool) {
	if c == nil {
		return "", false
	}
	pt := geom.Coord{lng, lat}
	for i, b := range c.boundaries {
		if bb := c.bounds[i]; bb == nil || !bb.OverlapsPoint(geom.XY, pt) {
			continue
		}
		inside, err := contains(b.Geometry, pt)
		if err != nil {
			c.log.Debug("skipping malformed boundary",
				zap.String("boundary", b.ID),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		if inside {
			return b.Name()
		}
	}
	return "", false
}

// contains tests pt against a Polygon or MultiPolygon. Points on an outer
// ring count as inside; points inside a hole do not. A panic inside the
// geometry code is reported as an error.
func contains(g geom.T, pt geom.Coord) (inside bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			inside = false
			err = eris.Errorf("district: containment test panicked: %v", r)
		}
	}()

	switch t := g.(type) {
	case *geom.Polygon:
		return polygonContains(t, pt), nil
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if polygonContains(t.Polygon(i), pt) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

func polygonContains(p *geom.Polygon, pt geom.Coord) bool {
	if p == nil || p.NumLinearRings() == 0 {
		return false
	}
	layout := p.Layout()
	if locate(layout, pt, p.LinearRing(0).FlatCoords()) == location.Exterior {
		return false
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		if locate(layout, pt, p.LinearRing(i).FlatCoords()) == location.Interior {
			return false
		}
	}
	return true
}

// locate closes an open ring before testing it.
func locate(layout geom.Layout, pt geom.Coord, ring []float64) location.Type {
	stride := layout.Stride()
	if n := len(ring); n >= 2*stride {
		if ring[0] != ring[n-stride] || ring[1] != ring[n-stride+1] {
			closed := make([]float64, 0, n+stride)
			closed = append(closed, ring...)
			closed = append(closed, ring[:stride]...)
			ring = closed
		}
	}
	return xy.LocatePointInRing(layout, pt, ring)
}

func safeBounds(g geom.T) (b *geom.Bounds) {
	defer func() {
		if recover() != nil {
			b = nil
		}
	}()
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
		return g.Bounds()
	default:
		return nil
	}
}
