// Package address resolves postal addresses for points, first from OSM
// address tags and then, for what remains, by reverse geocoding.
package address

import (
	"strings"

	"github.com/ctut-gis/atm-cli/internal/model"
)

// componentTags are joined in this order when no combined address exists.
var componentTags = []string{
	model.TagAddrHousenumber,
	model.TagAddrStreet,
	model.TagAddrSuburb,
	model.TagAddrCity,
	model.TagAddrDistrict,
	model.TagAddrProvince,
}

// FromTags derives an address from tags: addr:full verbatim, otherwise the
// present components joined with ", ".
func FromTags(tags model.Tags) (string, bool) {
	if full := tags[model.TagAddrFull]; strings.TrimSpace(full) != "" {
		return full, true
	}

	parts := make([]string, 0, len(componentTags))
	for _, key := range componentTags {
		if v, ok := tags.Get(key); ok {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, ", "), true
}

// ApplyTags runs the tag phase over points that have no address yet and
// returns how many were resolved.
func ApplyTags(points []model.Point) int {
	n := 0
	for i := range points {
		if points[i].HasAddress() {
			continue
		}
		if addr, ok := FromTags(points[i].Tags); ok {
			points[i].SetAddress(addr, model.AddressSourceTags)
			n++
		}
	}
	return n
}
