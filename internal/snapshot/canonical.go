package snapshot

import (
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/ctut-gis/atm-cli/internal/model"
)

// Canonicalize rewrites bare numeric ids (written by older producers) to the
// osm_{type}_{id} key. A record without osm_type is assumed to be a node.
// The osm_id field is filled in when it was missing.
func Canonicalize(records []model.Record) []model.Record {
	for i := range records {
		r := &records[i]
		if strings.HasPrefix(r.ID, "osm_") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(r.ID), 10, 64)
		if err != nil {
			continue
		}
		if r.OSMType == "" {
			r.OSMType = "node"
		}
		if r.OSMID == 0 {
			r.OSMID = id
		}
		r.ID = model.Key(r.OSMType, id)
	}
	return records
}

// Banks returns the distinct bank names in Vietnamese collation order.
// Records without a bank are ignored.
func Banks(records []model.Record) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, r := range records {
		if r.Bank == nil {
			continue
		}
		label := strings.TrimSpace(*r.Bank)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	collate.New(language.Vietnamese, collate.IgnoreCase).SortStrings(out)
	return out
}
