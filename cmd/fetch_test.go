package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geolab/internal/config"
)

func TestFetchCommand(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		hits.Add(1)
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	dir := writeFixtures(t)
	cfg.Fetch.TempDir = t.TempDir()
	cfg.Datasets = map[string]config.DatasetConfig{
		"wells":   {URL: srv.URL + "/data/wells.geojson"},
		"streets": {URL: srv.URL + "/data/streets.geojson"},
	}
	cmd, out := testCommand()

	require.NoError(t, fetchCmd.RunE(cmd, nil))
	assert.Equal(t, "streets: 42 bytes, 1 files\nwells: 42 bytes, 1 files\n", out.String())
	assert.FileExists(t, filepath.Join(dir, "wells.geojson"))

	out.Reset()
	require.NoError(t, fetchCmd.RunE(cmd, []string{"wells"}))
	assert.Equal(t, "wells: unchanged\n", out.String())
	assert.Equal(t, int32(2), hits.Load())

	fetchForce = true
	t.Cleanup(func() { fetchForce = false })
	out.Reset()
	require.NoError(t, fetchCmd.RunE(cmd, []string{"wells"}))
	assert.Equal(t, int32(3), hits.Load())

	data, err := os.ReadFile(filepath.Join(dir, "wells.geojson"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "FeatureCollection")
}

func TestFetchCommand_Errors(t *testing.T) {
	writeFixtures(t)
	cmd, _ := testCommand()

	err := fetchCmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one dataset")

	cfg.Datasets = map[string]config.DatasetConfig{"wells": {URL: "https://example.org/wells.geojson"}}
	_, err = selectDatasets([]string{"sewers"})
	require.Error(t, err)

	ds, err := selectDatasets(nil)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "wells", ds[0].Name)
}
