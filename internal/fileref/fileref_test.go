package fileref

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStat_RegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	f, err := Stat(path)
	require.NoError(t, err)
	assert.Equal(t, path, f.Path)
	assert.Equal(t, int64(5), f.Size)
	assert.NotEmpty(t, f.LastModified)
}

func TestStat_StableAcrossRepeatedCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	a, err := Stat(path)
	require.NoError(t, err)
	b, err := Stat(path)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestStat_MissingFile(t *testing.T) {
	_, err := Stat("/nonexistent/path/does-not-exist")
	assert.Error(t, err)
}

func TestStat_RejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := Stat(dir)
	assert.Error(t, err)
}
