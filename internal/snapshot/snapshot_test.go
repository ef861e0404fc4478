package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctut-gis/atm-cli/internal/model"
)

func strp(s string) *string { return &s }

func sampleRecords() []model.Record {
	return []model.Record{
		{
			ID: "osm_node_1", OSMID: 1, OSMType: "node",
			Amenity: strp("atm"), Bank: strp("Vietcombank"), Name: "ATM VCB",
			Address: "1 Hòa Bình & Co", Lat: 10.03, Lng: 105.77,
			Source: model.SourceTagsOverpass,
		},
		{
			ID: "osm_way_2", OSMID: 2, OSMType: "way",
			Name: model.PlaceholderName, Address: model.PlaceholderAddress,
			Lat: 10.04, Lng: 105.78, Source: model.SourceTagsOverpass,
			ExtraTags: map[string]string{"wheelchair": "yes"},
		},
	}
}

func TestStore_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "atm.json")
	s := NewStore(path)
	assert.Equal(t, path, s.Path())

	require.NoError(t, s.Write(sampleRecords()))

	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  {\n")
	assert.Contains(t, string(raw), "1 Hòa Bình & Co", "no HTML escaping")
	assert.Contains(t, string(raw), `"district": null`)
}

func TestStore_WriteIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm.json")
	s := NewStore(path)

	require.NoError(t, s.Write(sampleRecords()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Write(sampleRecords()))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStore_WriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "atm.json"))
	require.NoError(t, s.Write(sampleRecords()))
	require.NoError(t, s.Write(nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "atm.json", entries[0].Name())

	raw, err := os.ReadFile(filepath.Join(dir, "atm.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(raw))
}

func TestStore_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := NewStore(filepath.Join(blocker, "atm.json")).Write(sampleRecords())
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
}

func TestStore_ReadMissingIsEmpty(t *testing.T) {
	got, err := NewStore(filepath.Join(t.TempDir(), "absent.json")).Read()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ReadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	got, err := NewStore(path).Read()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "osm_node_1"`), 0o644))

	s := NewStore(path)
	_, err := s.Read()
	require.Error(t, err)

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "decode", pe.Op)
	assert.Equal(t, path, pe.Path)

	_, err = s.ReadRaw()
	assert.True(t, IsPersistenceError(err))
}

func TestStore_ReadRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm.json")
	s := NewStore(path)

	_, err := s.ReadRaw()
	assert.True(t, IsPersistenceError(err), "missing file is an error for raw reads")

	require.NoError(t, s.Write(sampleRecords()))
	raw, err := s.ReadRaw()
	require.NoError(t, err)
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, onDisk, raw)

	require.NoError(t, os.WriteFile(path, []byte(`{"not": "an array"}`), 0o644))
	_, err = s.ReadRaw()
	assert.Error(t, err)
}

func TestCanonicalize(t *testing.T) {
	in := []model.Record{
		{ID: "osm_node_1", OSMID: 1, OSMType: "node"},
		{ID: "2", OSMType: "way"},
		{ID: "3"},
		{ID: "custom-id"},
	}
	got := Canonicalize(in)

	assert.Equal(t, "osm_node_1", got[0].ID)
	assert.Equal(t, "osm_way_2", got[1].ID)
	assert.Equal(t, int64(2), got[1].OSMID)
	assert.Equal(t, "osm_node_3", got[2].ID)
	assert.Equal(t, "node", got[2].OSMType)
	assert.Equal(t, "custom-id", got[3].ID)
}

func TestStore_ReadUpgradesBareIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "42", "osm_type": "node", "lat": 10, "lng": 105, "name": "x", "address": "y", "source": "tags+overpass"}]`), 0o644))

	got, err := NewStore(path).Read()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "osm_node_42", got[0].ID)
}

func TestBanks(t *testing.T) {
	recs := []model.Record{
		{Bank: strp("Vietinbank")},
		{Bank: strp(" ACB ")},
		{Bank: strp("Đông Á Bank")},
		{Bank: strp("ACB")},
		{Bank: strp("Agribank")},
		{Bank: strp("  ")},
		{Name: "no bank"},
		{Bank: strp("Eximbank")},
	}
	// Vietnamese orders Đ after D and before E.
	assert.Equal(t, []string{"ACB", "Agribank", "Đông Á Bank", "Eximbank", "Vietinbank"}, Banks(recs))
	assert.Empty(t, Banks(nil))
}
