package district

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

const testCollection = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": "nk",
      "properties": {"NAME_2": "Ninh Kiều"},
      "geometry": {"type": "Polygon", "coordinates": [[[105.70,10.00],[105.80,10.00],[105.80,10.10],[105.70,10.10],[105.70,10.00]]]}
    },
    {
      "type": "Feature",
      "properties": {"ten_qh": "Cái Răng"},
      "geometry": {"type": "MultiPolygon", "coordinates": [
        [[[105.80,9.90],[105.90,9.90],[105.90,10.00],[105.80,10.00],[105.80,9.90]]],
        [[[106.00,9.00],[106.10,9.00],[106.10,9.10],[106.00,9.10],[106.00,9.00]]]
      ]}
    },
    {
      "type": "Feature",
      "properties": {"name": "Bình Thủy"},
      "geometry": {"type": "Polygon", "coordinates": [
        [[105.60,10.00],[105.70,10.00],[105.70,10.10],[105.60,10.10],[105.60,10.00]],
        [[105.62,10.02],[105.68,10.02],[105.68,10.08],[105.62,10.08],[105.62,10.02]]
      ]}
    },
    {"type": "Feature", "properties": {"NAME_2": "Point"}, "geometry": {"type": "Point", "coordinates": [105.75, 10.05]}},
    {"type": "Feature", "properties": {"NAME_2": "Null"}, "geometry": null},
    {"type": "Feature", "properties": {"NAME_2": "Bad"}, "geometry": {"type": "Blob", "coordinates": []}},
    {"type": "Feature", "properties": {"NAME_2": "Empty"}, "geometry": {"type": "Polygon", "coordinates": []}}
  ]
}`

func TestParseGeoJSON_SkipsMalformed(t *testing.T) {
	bs, err := ParseGeoJSON([]byte(testCollection))
	require.NoError(t, err)
	require.Len(t, bs, 3)

	assert.Equal(t, "nk", bs[0].ID)
	assert.Equal(t, "1", bs[1].ID)
	assert.IsType(t, &geom.MultiPolygon{}, bs[1].Geometry)
}

func TestParseGeoJSON_RejectsOtherTypes(t *testing.T) {
	_, err := ParseGeoJSON([]byte(`{"type": "Feature", "features": []}`))
	require.Error(t, err)

	_, err = ParseGeoJSON([]byte(`not json`))
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	bs, err := ParseGeoJSON([]byte(testCollection))
	require.NoError(t, err)
	c := NewClassifier(bs)
	assert.Equal(t, 3, c.Len())

	tests := []struct {
		name     string
		lat, lng float64
		want     string
		ok       bool
	}{
		{"inside polygon", 10.05, 105.75, "Ninh Kiều", true},
		{"inside second part of multipolygon", 9.05, 106.05, "Cái Răng", true},
		{"case-insensitive alias", 9.95, 105.85, "Cái Răng", true},
		{"outer ring of holed polygon", 10.01, 105.61, "Bình Thủy", true},
		{"inside hole", 10.05, 105.65, "", false},
		{"outside everything", 11, 107, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Classify(tt.lat, tt.lng)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	square := func() *geom.Polygon {
		return geom.NewPolygonFlat(geom.XY, []float64{0, 0, 2, 0, 2, 2, 0, 2, 0, 0}, []int{10})
	}
	c := NewClassifier([]Boundary{
		{ID: "a", Geometry: square(), Properties: map[string]interface{}{"district": "A"}},
		{ID: "b", Geometry: square(), Properties: map[string]interface{}{"district": "B"}},
	})

	got, ok := c.Classify(1, 1)
	assert.True(t, ok)
	assert.Equal(t, "A", got)
}

// oddPolygon has a dangling ordinate, so any walk over its coordinates
// indexes past the end of the slice.
func oddPolygon() *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{0, 0, 2, 0, 2, 2, 0, 2, 0}, []int{9})
}

func TestClassify_MalformedGeometrySkipped(t *testing.T) {
	good := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 2, 0, 2, 2, 0, 2, 0, 0}, []int{10})
	c := NewClassifier([]Boundary{
		{ID: "bad", Geometry: oddPolygon(), Properties: map[string]interface{}{"name": "Bad"}},
		{ID: "good", Geometry: good, Properties: map[string]interface{}{"name": "Good"}},
	})

	got, ok := c.Classify(1, 1)
	assert.True(t, ok)
	assert.Equal(t, "Good", got)
}

func TestContains_RecoversPanic(t *testing.T) {
	inside, err := contains(oddPolygon(), geom.Coord{1, 1})
	require.Error(t, err)
	assert.False(t, inside)

	inside, err = contains(geom.NewMultiPolygon(geom.XY), geom.Coord{0, 0})
	require.NoError(t, err)
	assert.False(t, inside)

	inside, err = contains(geom.NewPointFlat(geom.XY, []float64{0, 0}), geom.Coord{0, 0})
	require.NoError(t, err)
	assert.False(t, inside)
}

func TestClassify_NilClassifier(t *testing.T) {
	var c *Classifier
	_, ok := c.Classify(10, 105)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestBoundaryName(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]interface{}
		want  string
		ok    bool
	}{
		{"priority order", map[string]interface{}{"name": "low", "NAME_2": "high"}, "high", true},
		{"blank skipped", map[string]interface{}{"NAME_2": "  ", "TEN_QH": "Ô Môn"}, "Ô Môn", true},
		{"case variant", map[string]interface{}{"District": "Thốt Nốt"}, "Thốt Nốt", true},
		{"numeric value", map[string]interface{}{"name": float64(7)}, "7", true},
		{"none", map[string]interface{}{"GID_2": "VNM.13.1_1"}, "", false},
		{"nil props", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Boundary{Properties: tt.props}.Name()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrNoBoundaries)

	_, err = Load(filepath.Join(t.TempDir(), "absent.geojson"))
	assert.ErrorIs(t, err, ErrNoBoundaries)
}

func TestLoad_GeoJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "districts.geojson")
	require.NoError(t, os.WriteFile(path, []byte(testCollection), 0o644))

	bs, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, bs, 3)
}

// writeShapefile writes one outer ring with a hole and a second disjoint
// ring, plus a NAME_2 attribute.
func writeShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "districts.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME_2", 40)}))

	// Outer rings clockwise, hole counter-clockwise.
	outer := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 1, Y: 1}, {X: 3, Y: 1}, {X: 3, Y: 3}, {X: 1, Y: 3}, {X: 1, Y: 1}}
	island := []shp.Point{{X: 10, Y: 10}, {X: 10, Y: 11}, {X: 11, Y: 11}, {X: 11, Y: 10}, {X: 10, Y: 10}}

	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{outer, hole, island}))
	require.Equal(t, int32(0), w.Write(&poly))
	require.NoError(t, w.WriteAttribute(0, 0, "Phong Điền"))
	w.Close()

	// go-shp v0.1.1 names the attribute file "<base>dbf"; the reader wants ".dbf".
	base := strings.TrimSuffix(path, ".shp")
	if _, err := os.Stat(base + "dbf"); err == nil {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}
	_, err = os.Stat(base + ".dbf")
	require.NoError(t, err)
	return path
}

func TestLoadShapefile(t *testing.T) {
	path := writeShapefile(t, t.TempDir())

	bs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, bs, 1)

	mp, ok := bs[0].Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	require.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, 1, mp.Polygon(1).NumLinearRings())

	c := NewClassifier(bs)
	got, ok := c.Classify(0.5, 0.5)
	assert.True(t, ok)
	assert.Equal(t, "Phong Điền", got)

	_, ok = c.Classify(2, 2)
	assert.False(t, ok, "inside the hole")

	got, ok = c.Classify(10.5, 10.5)
	assert.True(t, ok)
	assert.Equal(t, "Phong Điền", got)
}

func TestLoad_ZippedShapefile(t *testing.T) {
	src := t.TempDir()
	path := writeShapefile(t, src)
	base := path[:len(path)-len(".shp")]

	zipPath := filepath.Join(t.TempDir(), "districts.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		w, err := zw.Create("gadm/districts" + ext)
		require.NoError(t, err)
		f, err := os.Open(base + ext)
		require.NoError(t, err)
		_, err = io.Copy(w, f)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	bs, err := Load(zipPath)
	require.NoError(t, err)
	require.Len(t, bs, 1)
	name, ok := bs[0].Name()
	assert.True(t, ok)
	assert.Equal(t, "Phong Điền", name)
}

func TestSignedArea(t *testing.T) {
	cw := []float64{0, 0, 0, 1, 1, 1, 1, 0, 0, 0}
	ccw := []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 0}
	assert.Less(t, signedArea(cw), 0.0)
	assert.Greater(t, signedArea(ccw), 0.0)
}
