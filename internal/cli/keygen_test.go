package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeygenLegacy(t *testing.T) {
	dir := t.TempDir()
	_, _, err := runCommand("keygen", "--suite", "legacy", "--out", dir)
	require.NoError(t, err)

	secret, err := os.ReadFile(filepath.Join(dir, "publisher.key"))
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	pub, err := os.ReadFile(filepath.Join(dir, "publisher.pub"))
	require.NoError(t, err)
	assert.Len(t, pub, 32)

	info, err := os.Stat(filepath.Join(dir, "publisher.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "secret key is owner-only")
}

func TestKeygenPQ(t *testing.T) {
	dir := t.TempDir()
	_, _, err := runCommand("keygen", "--suite", "pq", "--out", dir)
	require.NoError(t, err)

	secret, err := os.ReadFile(filepath.Join(dir, "publisher.key"))
	require.NoError(t, err)
	assert.Len(t, secret, 2528+1312, "sk||pk blob")

	pub, err := os.ReadFile(filepath.Join(dir, "publisher.pub"))
	require.NoError(t, err)
	assert.Len(t, pub, 1312)
}

func TestKeygenRejectsUnknownSuite(t *testing.T) {
	_, _, err := runCommand("keygen", "--suite", "dsa", "--out", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
