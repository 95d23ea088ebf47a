package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "docstore.db", cfg.Path)
	assert.Equal(t, "bolt", cfg.Backend)

	path := filepath.Join(t.TempDir(), "docstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: badger\nverbose: true\njournalDir: /tmp/j\n"), 0o644))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "docstore.db", cfg.Path, "unset keys keep defaults")
	assert.Equal(t, "badger", cfg.Backend)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "/tmp/j", cfg.JournalDir)

	require.NoError(t, os.WriteFile(path, []byte("backend: [\n"), 0o644))
	_, err = loadConfig(path)
	assert.ErrorContains(t, err, path)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
