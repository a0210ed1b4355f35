package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bluebook-vm/bluebook/vm"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[image]
path = "images/dev.image"

[interpreter]
cache-mode = "polymorphic"
gc-threshold = 5000
check-interval = 64

[log]
verbosity = 2
file = "bluebook.log"

[changes]
enabled = true
path = "/var/lib/bluebook/changes.db"

[bridge]
addr = ":9000"
token-secret = "s3cret"
`)

	c, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "images", "dev.image"), c.ImagePath())
	require.Equal(t, "polymorphic", c.Interpreter.CacheMode)
	require.Equal(t, 2, c.Log.Verbosity)
	require.True(t, c.Changes.Enabled)
	require.Equal(t, "/var/lib/bluebook/changes.db", c.ChangesPath())
	require.Equal(t, ":9000", c.Bridge.Addr)
	require.Equal(t, "s3cret", c.Bridge.TokenSecret)

	opts := c.VMOptions()
	require.Equal(t, vm.CachePolymorphic, opts.CacheMode)
	require.Equal(t, 5000, opts.GCThreshold)
	require.Equal(t, 64, opts.CheckInterval)
	require.Equal(t, c.ImagePath(), opts.SnapshotPath)
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[log]
verbosity = 1
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "bluebook.image", c.Image.Path)
	require.Equal(t, "monomorphic", c.Interpreter.CacheMode)
	require.Equal(t, vm.DefaultGCThreshold, c.Interpreter.GCThreshold)
	require.Equal(t, vm.DefaultCheckInterval, c.Interpreter.CheckInterval)
	require.False(t, c.Changes.Enabled)
	require.Equal(t, filepath.Join(dir, "bluebook.changes"), c.ChangesPath())
	require.Equal(t, "127.0.0.1:7480", c.Bridge.Addr)
	require.Empty(t, c.Bridge.TokenSecret)
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "bluebook.image"), c.ImagePath())
	require.Equal(t, vm.CacheMonomorphic, c.VMOptions().CacheMode)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := map[string]string{
		"syntax":     "[image\npath = 1",
		"cache mode": "[interpreter]\ncache-mode = \"sometimes\"\n",
		"unknown":    "[image]\nformat = \"old\"\n",
		"type":       "[interpreter]\ngc-threshold = \"lots\"\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), content))
			require.Error(t, err)
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0755))
	writeConfig(t, dir, "[image]\npath = \"found.image\"\n")

	c, err := FindAndLoad(sub)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "found.image"), c.ImagePath())
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	c, err := FindAndLoad(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "bluebook.image"), c.ImagePath())
}
