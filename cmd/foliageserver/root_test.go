package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foliage/internal/config"
	"foliage/internal/dispatch"
	"foliage/internal/instances"
	"foliage/internal/ledger"
	"foliage/internal/placement"
	"foliage/internal/server"
	"foliage/internal/terrain"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "usage", "paint", "clear", "undo"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestServeFlags(t *testing.T) {
	cmd := NewRootCommand()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	for _, name := range []string{"listen", "seed", "journal", "terrain", "log-prefix"} {
		assert.NotNil(t, serve.Flags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "c", cmd.PersistentFlags().Lookup("config").Shorthand)
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"usage", "--format", "xml"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadConfigAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("FOLIAGE_CONFIG_JSON", "")
	t.Setenv("FOLIAGE_CONFIG_YAML_B64", "")
	t.Setenv("FOLIAGE_LISTEN", "127.0.0.1:9191")
	t.Setenv("FOLIAGE_SEED", "42")
	t.Setenv("FOLIAGE_TERRAIN", "plane")
	t.Setenv("FOLIAGE_LOG_PREFIX", "test ")

	opts := &RootOptions{v: newViper()}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9191", cfg.Server.ListenAddress)
	assert.Equal(t, int64(42), cfg.Placement.Seed)
	assert.Equal(t, config.TerrainPlane, cfg.Terrain.Kind)
	assert.Equal(t, "test ", cfg.Log.Prefix)
	assert.Empty(t, cfg.Journal.Path)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	t.Setenv("FOLIAGE_CONFIG_JSON", "")
	t.Setenv("FOLIAGE_CONFIG_YAML_B64", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "server:\n  listenAddress: \":7000\"\njournal:\n  path: from-file.db\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	opts := &RootOptions{v: newViper()}
	cmd := newRootCommand(opts)
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, cmd.PersistentFlags().Set("config", path))
	require.NoError(t, serve.Flags().Set("journal", filepath.Join(dir, "flag.db")))

	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.ListenAddress)
	assert.Equal(t, filepath.Join(dir, "flag.db"), cfg.Journal.Path)
}

func TestLoadConfigRejectsInvalidOverride(t *testing.T) {
	t.Setenv("FOLIAGE_CONFIG_JSON", "")
	t.Setenv("FOLIAGE_CONFIG_YAML_B64", "")
	t.Setenv("FOLIAGE_TERRAIN", "lava")

	opts := &RootOptions{v: newViper()}
	_, err := opts.loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terrain.kind")
}

// liveServer serves the real HTTP handlers over a dispatcher that is not
// running, so queued work stays observable.
func liveServer(t *testing.T) (*httptest.Server, *ledger.Ledger, *dispatch.Dispatcher) {
	t.Helper()
	l := ledger.New()
	store := instances.NewStore(nil)
	d := dispatch.New(store, placement.NewSampler(1), terrain.Plane{}, l, nil, 1024)
	srv := server.New(config.Default(), d, store, l, nil, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, l, d
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestUsageCommandFormatsBytes(t *testing.T) {
	ts, l, _ := liveServer(t)
	require.NoError(t, l.Track(l.NextHandle(), 5<<20))

	out, err := execute(t, "usage", "--server", ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "OK: 5,242,880 bytes in use\n", out)

	out, err = execute(t, "usage", "--server", ts.URL, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"usage_bytes": 5242880`)

	out, err = execute(t, "usage", "--server", ts.URL, "--history")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPaintCommandQueuesStroke(t *testing.T) {
	ts, _, d := liveServer(t)

	out, err := execute(t, "paint", "--server", ts.URL, "--x", "10", "--y", "20", "-r", "50", "-n", "5", "--cluster", "--tag", "meadow")
	require.NoError(t, err)
	assert.Equal(t, "paint queued (tag meadow)\n", out)
	assert.Equal(t, 1, d.Len())
}

func TestClearAndUndoCommands(t *testing.T) {
	ts, _, d := liveServer(t)

	out, err := execute(t, "clear", "--server", ts.URL, "--tag", "a b")
	require.NoError(t, err)
	assert.Equal(t, "clear queued (tag a b)\n", out)

	out, err = execute(t, "undo", "--server", ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "undo queued\n", out)
	assert.Equal(t, 2, d.Len())
}

func TestClientSurfacesServerErrors(t *testing.T) {
	ts, _, _ := liveServer(t)
	_, err := newAPIClient(ts.URL).do(context.Background(), "POST", "/paint", map[string]string{"x": "nope"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "400"), err.Error())
}
