package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()

	_, err := m.ReadFile("missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	require.NoError(t, m.WriteFile("a/b.bin", []byte("hello"), 0o644))
	data, err := m.ReadFile("a/./b.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	data[0] = 'j'
	again, _ := m.ReadFile("a/b.bin")
	assert.Equal(t, []byte("hello"), again)

	require.NoError(t, m.Rename("a/b.bin", "a/c.bin"))
	assert.False(t, m.Exists("a/b.bin"))
	assert.True(t, m.Exists("a/c.bin"))
	assert.Error(t, m.Rename("a/b.bin", "x"))

	require.NoError(t, m.MkdirAll("d/e/f", 0o755))
	assert.True(t, m.Exists("d/e"))

	require.NoError(t, m.Remove("a/c.bin"))
	assert.Error(t, m.Remove("a/c.bin"))
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		m := NewMemoryFileSystem()
		require.NoError(t, WriteFileAtomic(m, "state/engine.bin", []byte{1, 2}, 0o600))
		assert.Equal(t, []string{"state/engine.bin"}, m.Files("state/"))
		assert.True(t, m.Exists("state"))
	})

	t.Run("write failure leaves target", func(t *testing.T) {
		t.Parallel()
		m := NewMemoryFileSystem()
		require.NoError(t, m.WriteFile("s.bin", []byte("old"), 0o600))
		m.FailWrites = true
		assert.Error(t, WriteFileAtomic(m, "s.bin", []byte("new"), 0o600))
		data, err := m.ReadFile("s.bin")
		require.NoError(t, err)
		assert.Equal(t, []byte("old"), data)
	})

	t.Run("os", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		name := filepath.Join(dir, "nested", "engine.bin")
		var osfs OSFileSystem
		require.NoError(t, WriteFileAtomic(osfs, name, []byte("state"), 0o600))
		assert.True(t, osfs.Exists(name))
		assert.False(t, osfs.Exists(name+".tmp"))
		data, err := osfs.ReadFile(name)
		require.NoError(t, err)
		assert.Equal(t, []byte("state"), data)
	})
}
