// Package normalize maps raw Overpass elements onto canonical points.
package normalize

import (
	"github.com/ctut-gis/atm-cli/internal/model"
)

// bankTagPriority is the order in which tags are consulted for the bank name.
var bankTagPriority = []string{
	model.TagBank,
	model.TagNameVI,
	model.TagName,
	model.TagOperator,
	model.TagBrand,
}

// Normalize converts one raw feature into a Point. It returns false when the
// feature has no usable coordinate; that is a filter, not an error.
func Normalize(f model.RawFeature) (model.Point, bool) {
	lat, lng, ok := coordinates(f)
	if !ok {
		return model.Point{}, false
	}

	tags := f.Tags
	if tags == nil {
		tags = model.Tags{}
	}

	amenity, ok := tags.Get(model.TagAmenity)
	if !ok {
		if _, hasBank := tags.Get(model.TagBank); hasBank {
			amenity = model.AmenityBank
		}
	}

	bank, _ := tags.First(bankTagPriority...)

	name, ok := tags.Get(model.TagName)
	if !ok {
		name = bank
	}
	if name == "" {
		name = model.PlaceholderName
	}

	hours, _ := tags.Get(model.TagOpeningHours)

	return model.Point{
		ID:           model.Key(f.Type, f.ID),
		OSMID:        f.ID,
		OSMType:      f.Type,
		Amenity:      amenity,
		Bank:         bank,
		Name:         name,
		Lat:          lat,
		Lng:          lng,
		OpeningHours: hours,
		Tags:         tags,
	}, true
}

// All normalizes a batch, dropping invalid features and repeated identity
// keys (first occurrence wins). Input order is preserved.
func All(features []model.RawFeature) []model.Point {
	points := make([]model.Point, 0, len(features))
	seen := make(map[string]bool, len(features))
	for _, f := range features {
		p, ok := Normalize(f)
		if !ok || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		points = append(points, p)
	}
	return points
}

// coordinates prefers the element's own position and falls back to the
// centroid reported for ways and relations. A zero value counts as absent.
func coordinates(f model.RawFeature) (lat, lng float64, ok bool) {
	lat, lng = f.Lat, f.Lon
	if (lat == 0 || lng == 0) && f.Center != nil {
		lat, lng = f.Center.Lat, f.Center.Lon
	}
	if lat == 0 || lng == 0 {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}
