// Package merge reconciles a freshly enriched record set with the persisted
// snapshot. Records are matched by their canonical id.
package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ctut-gis/atm-cli/internal/model"
)

// Mode selects the write-back policy.
type Mode string

const (
	// ModeDiff replaces the snapshot only when something meaningful changed.
	ModeDiff Mode = "diff"
	// ModeAppend only adds records whose id is not yet persisted.
	ModeAppend Mode = "append"
	// ModeOverwrite always replaces the snapshot.
	ModeOverwrite Mode = "overwrite"
)

// ParseMode parses a mode name; the empty string means ModeDiff.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDiff:
		return ModeDiff, nil
	case ModeAppend:
		return ModeAppend, nil
	case ModeOverwrite:
		return ModeOverwrite, nil
	default:
		return "", eris.Errorf("merge: unknown mode %q (want diff, append or overwrite)", s)
	}
}

// fingerprintFields is the content that decides whether a record changed.
// Provenance fields are deliberately absent.
type fingerprintFields struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Bank    *string `json:"bank"`
	Address string  `json:"address"`
}

// Fingerprint returns the hex SHA-256 of a record's coordinates, bank and
// address.
func Fingerprint(r model.Record) string {
	b, _ := json.Marshal(fingerprintFields{Lat: r.Lat, Lng: r.Lng, Bank: r.Bank, Address: r.Address})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Result is the outcome of Diff. Added and Changed follow the order of the
// new set; Removed follows the old set. Changed holds the new versions.
type Result struct {
	Added   []model.Record
	Removed []model.Record
	Changed []model.Record
}

// Empty reports whether nothing was added, removed or changed.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// ShouldWrite reports whether the snapshot must be replaced: always when the
// previous snapshot was empty, otherwise only when something changed.
func (r Result) ShouldWrite(oldLen int) bool {
	return oldLen == 0 || !r.Empty()
}

// Diff compares two record sets by id.
func Diff(old, fresh []model.Record) Result {
	oldByID := make(map[string]model.Record, len(old))
	for _, r := range old {
		oldByID[r.ID] = r
	}
	freshIDs := make(map[string]struct{}, len(fresh))

	var res Result
	for _, r := range fresh {
		freshIDs[r.ID] = struct{}{}
		prev, ok := oldByID[r.ID]
		if !ok {
			res.Added = append(res.Added, r)
			continue
		}
		if Fingerprint(prev) != Fingerprint(r) {
			res.Changed = append(res.Changed, r)
		}
	}
	for _, r := range old {
		if _, ok := freshIDs[r.ID]; !ok {
			res.Removed = append(res.Removed, r)
		}
	}
	return res
}

// AppendOnly appends fresh records whose id is not already persisted.
// Persisted records are never modified or removed.
func AppendOnly(persisted, fresh []model.Record) (merged, appended []model.Record) {
	seen := make(map[string]struct{}, len(persisted)+len(fresh))
	for _, r := range persisted {
		seen[r.ID] = struct{}{}
	}

	merged = make([]model.Record, len(persisted), len(persisted)+len(fresh))
	copy(merged, persisted)
	for _, r := range fresh {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		merged = append(merged, r)
		appended = append(appended, r)
	}
	return merged, appended
}

// Outcome is what a mode decided: the records to persist and whether to
// write them at all.
type Outcome struct {
	Mode     Mode
	Records  []model.Record
	Write    bool
	Diff     Result
	Appended []model.Record
}

// Apply runs the policy for mode. The diff is always computed so callers can
// report it whatever the mode.
func Apply(mode Mode, old, fresh []model.Record) (Outcome, error) {
	out := Outcome{Mode: mode, Diff: Diff(old, fresh)}
	switch mode {
	case ModeDiff:
		out.Records = fresh
		out.Write = out.Diff.ShouldWrite(len(old))
	case ModeAppend:
		out.Records, out.Appended = AppendOnly(old, fresh)
		out.Write = len(out.Appended) > 0 || len(old) == 0
	case ModeOverwrite:
		out.Records = fresh
		out.Write = true
	default:
		return Outcome{}, eris.Errorf("merge: unknown mode %q", mode)
	}
	return out, nil
}
