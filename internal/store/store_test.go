package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put("trackedFlights", []string{"a12345_1700000000", "b67890_1700000000"}))

	var got []string
	ok, err := s.Get("trackedFlights", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a12345_1700000000", "b67890_1700000000"}, got)

	// survives a new handle on the same directory
	again, err := NewFileStore(dir)
	require.NoError(t, err)
	var reloaded []string
	ok, err = again.Get("trackedFlights", &reloaded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, got, reloaded)

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreMissingKey(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	var got []string
	ok, err := s.Get("nothing", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreCorruptValue(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trackedFlights.json"), []byte("{oops"), 0o644))

	var got []string
	ok, err := s.Get("trackedFlights", &got)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, s.Put("../escape", 1))
	_, err = s.Get("a/b", new(int))
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	var got []string
	ok, err := s.Get("trackedFlights", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put("trackedFlights", []string{"x"}))
	ok, err = s.Get("trackedFlights", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"x"}, got)
}
