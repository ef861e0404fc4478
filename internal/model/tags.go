package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Recognized OSM tag keys.
const (
	TagAmenity         = "amenity"
	TagBank            = "bank"
	TagName            = "name"
	TagNameVI          = "name:vi"
	TagOperator        = "operator"
	TagBrand           = "brand"
	TagOpeningHours    = "opening_hours"
	TagAddrFull        = "addr:full"
	TagAddrHousenumber = "addr:housenumber"
	TagAddrStreet      = "addr:street"
	TagAddrSuburb      = "addr:suburb"
	TagAddrCity        = "addr:city"
	TagAddrDistrict    = "addr:district"
	TagAddrProvince    = "addr:province"
)

var recognizedTags = map[string]bool{
	TagAmenity:         true,
	TagBank:            true,
	TagName:            true,
	TagNameVI:          true,
	TagOperator:        true,
	TagBrand:           true,
	TagOpeningHours:    true,
	TagAddrFull:        true,
	TagAddrHousenumber: true,
	TagAddrStreet:      true,
	TagAddrSuburb:      true,
	TagAddrCity:        true,
	TagAddrDistrict:    true,
	TagAddrProvince:    true,
}

// Tags is the free-form OSM tag mapping of a feature.
type Tags map[string]string

// Get returns the NFC-normalized, trimmed value of key. The second result is
// false when the tag is missing or blank.
func (t Tags) Get(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	v, ok := t[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(norm.NFC.String(v))
	if v == "" {
		return "", false
	}
	return v, true
}

// First returns the first non-blank value among keys, in order.
func (t Tags) First(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := t.Get(k); ok {
			return v, true
		}
	}
	return "", false
}

// Split separates recognized tags from everything else. Unknown keys are
// passed through untouched.
func (t Tags) Split() (known, extra map[string]string) {
	known = make(map[string]string)
	extra = make(map[string]string)
	for k, v := range t {
		if recognizedTags[k] {
			known[k] = v
		} else {
			extra[k] = v
		}
	}
	return known, extra
}
