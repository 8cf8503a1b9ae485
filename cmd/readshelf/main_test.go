package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfryer1193/readshelf/shared/config"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvDatabasePath, filepath.Join(dir, "readshelf.db"))
	t.Setenv(config.EnvCacheDir, filepath.Join(dir, "images"))
	t.Setenv(config.EnvRemoteURL, "")
	configPath = ""

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCacheStats_Empty(t *testing.T) {
	out, err := runCmd(t, "cache", "stats")
	require.NoError(t, err)
	assert.Equal(t, "records 0, bytes 0\n", out)
}

func TestCacheEvict_Empty(t *testing.T) {
	out, err := runCmd(t, "cache", "evict", "--max-age-days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "expired 0")
}

func TestSync_RequiresRemote(t *testing.T) {
	_, err := runCmd(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.url is required")
}
