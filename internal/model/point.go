// Package model defines the ATM/bank point types shared by the enrichment
// pipeline, the snapshot store and the HTTP layer.
package model

import "fmt"

// Amenity values recognized on OSM features.
const (
	AmenityATM  = "atm"
	AmenityBank = "bank"
)

// Address provenance values.
const (
	AddressSourceTags      = "tags"
	AddressSourceNominatim = "nominatim"
	AddressSourceFallback  = "fallback"
)

// Placeholder strings emitted in the target locale (Vietnamese).
const (
	// PlaceholderName labels a point that has neither a name nor a bank.
	PlaceholderName = "Điểm ngân hàng / ATM"
	// PlaceholderAddress is written whenever no address could be resolved.
	PlaceholderAddress = "Không có địa chỉ cụ thể"
	// SourceTagsOverpass is the record source when no geocoder was involved.
	SourceTagsOverpass = "tags+overpass"
)

// LatLon is a bare coordinate pair as reported by Overpass.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RawFeature is a single element of an Overpass "elements" array. Ways and
// relations queried with "out center" report Center instead of Lat/Lon.
type RawFeature struct {
	Type   string  `json:"type"`
	ID     int64   `json:"id"`
	Lat    float64 `json:"lat,omitempty"`
	Lon    float64 `json:"lon,omitempty"`
	Center *LatLon `json:"center,omitempty"`
	Tags   Tags    `json:"tags,omitempty"`
}

// Point is the canonical unit flowing through the enrichment pipeline.
// Address and District stay nil until a phase resolves them.
type Point struct {
	ID            string
	OSMID         int64
	OSMType       string
	Amenity       string
	Bank          string
	Name          string
	Lat           float64
	Lng           float64
	Address       *string
	AddressSource string
	District      *string
	OpeningHours  string
	Tags          Tags
}

// Key builds the canonical identity key for an OSM element.
func Key(osmType string, osmID int64) string {
	return fmt.Sprintf("osm_%s_%d", osmType, osmID)
}

// HasAddress reports whether an address has been resolved.
func (p *Point) HasAddress() bool {
	return p.Address != nil && *p.Address != ""
}

// SetAddress records a resolved address and its provenance.
func (p *Point) SetAddress(addr, source string) {
	p.Address = &addr
	p.AddressSource = source
}

// Record is the flattened, persisted shape of a Point. It is the only
// contract between the pipeline and the serving layer.
type Record struct {
	ID            string            `json:"id"`
	OSMID         int64             `json:"osm_id"`
	OSMType       string            `json:"osm_type"`
	Amenity       *string           `json:"amenity"`
	Bank          *string           `json:"bank"`
	Name          string            `json:"name"`
	Address       string            `json:"address"`
	AddressSource *string           `json:"address_source"`
	District      *string           `json:"district"`
	Lat           float64           `json:"lat"`
	Lng           float64           `json:"lng"`
	OpeningHours  *string           `json:"opening_hours"`
	Source        string            `json:"source"`
	ExtraTags     map[string]string `json:"extra_tags,omitempty"`
}

// ToRecord flattens a Point, defaulting the address to PlaceholderAddress so
// that a record never carries a null address.
func (p *Point) ToRecord() Record {
	r := Record{
		ID:           p.ID,
		OSMID:        p.OSMID,
		OSMType:      p.OSMType,
		Amenity:      strPtr(p.Amenity),
		Bank:         strPtr(p.Bank),
		Name:         p.Name,
		Address:      PlaceholderAddress,
		District:     p.District,
		Lat:          p.Lat,
		Lng:          p.Lng,
		OpeningHours: strPtr(p.OpeningHours),
		Source:       SourceTagsOverpass,
	}
	if p.HasAddress() {
		r.Address = *p.Address
	}
	if p.AddressSource != "" {
		r.AddressSource = strPtr(p.AddressSource)
	}
	if p.AddressSource == AddressSourceNominatim || p.AddressSource == AddressSourceFallback {
		r.Source = p.AddressSource
	}
	if _, extra := p.Tags.Split(); len(extra) > 0 {
		r.ExtraTags = extra
	}
	return r
}

// BankLabel returns the label the frontend filters on: bank, then name.
func (r Record) BankLabel() string {
	if r.Bank != nil && *r.Bank != "" {
		return *r.Bank
	}
	return r.Name
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
