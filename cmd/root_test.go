package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctut-gis/atm-cli/internal/config"
	"github.com/ctut-gis/atm-cli/internal/merge"
	"github.com/ctut-gis/atm-cli/internal/model"
	"github.com/ctut-gis/atm-cli/internal/pipeline"
	"github.com/ctut-gis/atm-cli/pkg/overpass"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"enrich", "fetch", "serve", "banks", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "atm-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestEnrichCommand_Flags(t *testing.T) {
	flag := enrichCmd.Flags().Lookup("mode")
	require.NotNil(t, flag, "enrich command should have --mode flag")
	assert.Equal(t, "", flag.DefValue)
	assert.NotNil(t, enrichCmd.Flags().Lookup("no-geocode"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	flag = serveCmd.Flags().Lookup("schedule")
	require.NotNil(t, flag, "serve command should have --schedule flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestBanksCommand_Flags(t *testing.T) {
	assert.NotNil(t, banksCmd.Flags().Lookup("out"))
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestResolveMode(t *testing.T) {
	m, err := resolveMode("", "append")
	require.NoError(t, err)
	assert.Equal(t, merge.ModeAppend, m)

	m, err = resolveMode("overwrite", "append")
	require.NoError(t, err)
	assert.Equal(t, merge.ModeOverwrite, m)

	m, err = resolveMode("", "")
	require.NoError(t, err)
	assert.Equal(t, merge.ModeDiff, m)

	_, err = resolveMode("replace", "diff")
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	res := &pipeline.Result{Mode: merge.ModeDiff, Records: 3}
	res.Fetched = 4
	res.Added = 2
	res.Written = true

	var buf bytes.Buffer
	printResult(&buf, res, false)
	assert.Contains(t, buf.String(), "fetched=4")
	assert.Contains(t, buf.String(), "+2 -0 ~0")
	assert.Contains(t, buf.String(), "wrote 3 records")

	buf.Reset()
	res.Written = false
	res.Error = "pipeline: upstream fetch failed: boom"
	printResult(&buf, res, false)
	assert.Contains(t, buf.String(), "failed: pipeline: upstream fetch failed")

	buf.Reset()
	printResult(&buf, res, true)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "diff", decoded["mode"])
}

func TestWriteBanks(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBanks(&buf, []string{"ACB", "Đông Á Bank"}))
	assert.Equal(t, "[\n  \"ACB\",\n  \"Đông Á Bank\"\n]\n", buf.String())
}

// overpassStub answers every interpreter request with the given elements.
func overpassStub(t *testing.T, elements []model.RawFeature) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"version": 0.6, "elements": elements})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, overpassURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{}
	c.Overpass.URL = overpassURL
	c.Overpass.TimeoutSecs = 5
	c.Overpass.BBox = overpass.BBox{South: 9.95, West: 105.6, North: 10.25, East: 105.85}
	c.Nominatim.Disabled = true
	c.Pipeline.SnapshotPath = filepath.Join(dir, "data", "atm.json")
	c.Pipeline.Mode = "diff"
	c.Store.Path = filepath.Join(dir, "atm.db")
	c.Server.DataDir = filepath.Join(dir, "data")
	c.Schedule.Interval = time.Hour
	return c
}

func TestInitPipeline_RunsAgainstStub(t *testing.T) {
	ctx := context.Background()
	stub := overpassStub(t, []model.RawFeature{
		{Type: "node", ID: 1, Lat: 10.03, Lon: 105.77, Tags: model.Tags{"amenity": "atm", "bank": "ACB"}},
	})
	c := testConfig(t, stub.URL)

	env, err := initPipeline(ctx, c, envOptions{mode: merge.ModeDiff})
	require.NoError(t, err)
	defer env.Close()
	require.NotNil(t, env.Store)

	res, err := env.Pipeline.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.Equal(t, 1, res.Records)

	run, err := env.Store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)

	_, err = os.Stat(c.Pipeline.SnapshotPath)
	assert.NoError(t, err)
}

func TestInitPipeline_FetchWritesOwnSnapshot(t *testing.T) {
	ctx := context.Background()
	stub := overpassStub(t, []model.RawFeature{
		{Type: "node", ID: 1, Lat: 10.03, Lon: 105.77, Tags: model.Tags{"amenity": "atm", "bank": "ACB"}},
	})
	c := testConfig(t, stub.URL)
	c.Pipeline.FetchSnapshotPath = filepath.Join(filepath.Dir(c.Pipeline.SnapshotPath), "atm_cantho.json")

	env, err := initPipeline(ctx, c, envOptions{
		mode:          merge.ModeDiff,
		skipGeocode:   true,
		skipDistricts: true,
		snapshotPath:  c.Pipeline.FetchSnapshot(),
	})
	require.NoError(t, err)
	defer env.Close()
	assert.Equal(t, c.Pipeline.FetchSnapshotPath, env.Snapshots.Path())

	res, err := env.Pipeline.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Written)

	_, err = os.Stat(c.Pipeline.FetchSnapshotPath)
	assert.NoError(t, err)
	_, err = os.Stat(c.Pipeline.SnapshotPath)
	assert.True(t, os.IsNotExist(err), "enriched snapshot must not be touched")
}

func TestInitStore_Disabled(t *testing.T) {
	c := testConfig(t, "http://unused")
	c.Store.Path = ""
	st, err := initStore(context.Background(), c)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestBuildHandler_ServesSnapshot(t *testing.T) {
	ctx := context.Background()
	stub := overpassStub(t, []model.RawFeature{
		{Type: "node", ID: 7, Lat: 10.03, Lon: 105.77, Tags: model.Tags{"amenity": "bank", "bank": "Vietinbank"}},
	})
	c := testConfig(t, stub.URL)
	env, err := initPipeline(ctx, c, envOptions{mode: merge.ModeDiff})
	require.NoError(t, err)
	defer env.Close()
	_, err = env.Pipeline.Run(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(buildHandler(env, c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/banks") //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	var banks []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&banks))
	assert.Equal(t, []string{"Vietinbank"}, banks)
}

func TestNewScheduler_RegistersJobs(t *testing.T) {
	c := testConfig(t, "http://unused")
	c.Schedule.Enabled = true
	env, err := initPipeline(context.Background(), c, envOptions{mode: merge.ModeDiff})
	require.NoError(t, err)
	defer env.Close()

	s, err := newScheduler(context.Background(), env, c)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len(), "enrichment and cache purge")

	c.Monitoring.WebhookURL = "http://127.0.0.1:1/hook"
	s, err = newScheduler(context.Background(), env, c)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len(), "plus alert check")

	c.Schedule.Enabled = false
	s, err = newScheduler(context.Background(), env, c)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len(), "cache purge and alert check only")

	st := env.Store
	env.Store = nil
	defer st.Close() //nolint:errcheck
	c.Schedule.Enabled = true
	s, err = newScheduler(context.Background(), env, c)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}
