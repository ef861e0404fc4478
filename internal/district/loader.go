package district

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
	"go.uber.org/zap"
)

// ErrNoBoundaries is returned when the boundary path is unset or missing.
// Callers skip district assignment instead of failing.
var ErrNoBoundaries = eris.New("district: no boundary dataset")

// Load reads a boundary collection, choosing the format by extension:
// .shp, .zip (zipped shapefile) or anything else as GeoJSON.
func Load(path string) ([]Boundary, error) {
	if path == "" {
		return nil, ErrNoBoundaries
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoBoundaries
		}
		return nil, eris.Wrapf(err, "district: stat %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return LoadShapefile(path)
	case ".zip":
		return loadZippedShapefile(path)
	default:
		return LoadGeoJSON(path)
	}
}

type rawCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// LoadGeoJSON reads a FeatureCollection. Each feature is decoded on its own
// so a malformed one is logged and skipped rather than failing the file.
func LoadGeoJSON(path string) ([]Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoBoundaries
		}
		return nil, eris.Wrapf(err, "district: read %s", path)
	}
	return ParseGeoJSON(data)
}

// ParseGeoJSON decodes FeatureCollection bytes into boundaries.
func ParseGeoJSON(data []byte) ([]Boundary, error) {
	var fc rawCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "district: parse feature collection")
	}
	if fc.Type != "" && fc.Type != "FeatureCollection" {
		return nil, eris.Errorf("district: expected FeatureCollection, got %q", fc.Type)
	}

	log := zap.L().With(zap.String("component", "district.loader"))
	out := make([]Boundary, 0, len(fc.Features))
	var skipped int
	for i, raw := range fc.Features {
		var f geojson.Feature
		if err := json.Unmarshal(raw, &f); err != nil {
			log.Debug("skipping undecodable feature", zap.Int("index", i), zap.Error(err))
			skipped++
			continue
		}
		if !polygonal(f.Geometry) {
			skipped++
			continue
		}
		id := f.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		out = append(out, Boundary{ID: id, Geometry: f.Geometry, Properties: f.Properties})
	}

	if skipped > 0 {
		log.Info("skipped boundary features", zap.Int("skipped", skipped), zap.Int("loaded", len(out)))
	}
	return out, nil
}

// polygonal reports whether g is a Polygon or MultiPolygon with at least one ring.
func polygonal(g geom.T) bool {
	switch t := g.(type) {
	case *geom.Polygon:
		return t != nil && t.NumLinearRings() > 0
	case *geom.MultiPolygon:
		if t == nil {
			return false
		}
		for i := 0; i < t.NumPolygons(); i++ {
			if t.Polygon(i).NumLinearRings() > 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// LoadShapefile reads polygon records and their DBF attributes. Only the
// .shp path is given; go-shp finds the .dbf next to it.
func LoadShapefile(path string) ([]Boundary, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "district: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	var out []Boundary
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		props := make(map[string]interface{}, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val != "" {
				props[name] = val
			}
		}
		out = append(out, Boundary{ID: strconv.Itoa(n), Geometry: mp, Properties: props})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "district: read shapefile %s", path)
	}

	if skipped > 0 {
		zap.L().Debug("district: skipped shapefile records", zap.String("path", path), zap.Int("skipped", skipped))
	}
	return out, nil
}

// polygonToMultiPolygon converts a shapefile polygon. Outer rings are
// clockwise and holes counter-clockwise; a hole attaches to the outer ring
// before it.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("district: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 3 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if !isHole(current, flat) {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("district: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// isHole reports whether a counter-clockwise ring lies inside the outer ring
// of current. Writers that ignore orientation emit every part
// counter-clockwise, so orientation alone is not enough.
func isHole(current *geom.Polygon, flat []float64) bool {
	if current == nil || current.NumLinearRings() == 0 || signedArea(flat) < 0 {
		return false
	}
	outer := current.LinearRing(0).FlatCoords()
	return xy.LocatePointInRing(geom.XY, geom.Coord{flat[0], flat[1]}, outer) != location.Exterior
}

// signedArea is the shoelace sum; negative for clockwise rings.
func signedArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}

// loadZippedShapefile extracts the archive to a temp dir and loads the first
// .shp inside it.
func loadZippedShapefile(zipPath string) ([]Boundary, error) {
	dir, err := os.MkdirTemp("", "boundaries-*")
	if err != nil {
		return nil, eris.Wrap(err, "district: create extract dir")
	}
	defer func() { _ = os.RemoveAll(dir) }()

	if err := extractZIP(zipPath, dir); err != nil {
		return nil, eris.Wrap(err, "district: extract boundaries")
	}
	shpPath, err := findFileByExt(dir, ".shp")
	if err != nil {
		return nil, eris.Wrap(err, "district: find .shp file")
	}
	return LoadShapefile(shpPath)
}

// extractZIP flattens the archive into destDir.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractEntry(f, filepath.Join(destDir, filepath.Base(f.Name))); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return eris.Wrapf(err, "create %s", destPath)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "extract %s", f.Name)
	}
	return out.Close()
}

// findFileByExt returns the first file in dir with the given extension.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
