package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ReadAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	data, ok, err := s.Read("nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestStore_WriteRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("k", []byte("hello")))

	data, ok, err := s.Read("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}

func TestStore_SessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.ReadSession()
	require.NoError(t, err)
	assert.False(t, ok)

	want := Session{
		UploadID:        "abc123",
		FilePath:        "/data/big.img",
		FileLastChanged: "2026-01-01T00:00:00Z",
		PartSize:        4 << 20,
		PartsNeeded:     10,
	}
	require.NoError(t, s.WriteSession(want))

	got, ok, err := s.ReadSession()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestStore_PartHashRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.ReadPartHash(3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WritePartHash(3, []byte{1, 2, 3}))

	got, ok, err := s.ReadPartHash(3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestOpen_RejectsSecondLock(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(dir)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(dir)
	assert.Error(t, err)
}
