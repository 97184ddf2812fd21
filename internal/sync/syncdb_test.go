package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSyncDB(t *testing.T) {
	t.Run("missing file loads empty", func(t *testing.T) {
		db, err := LoadSyncDB(filepath.Join(t.TempDir(), "sync.db"))
		require.NoError(t, err)
		assert.Empty(t, db)
	})

	t.Run("parses etag hash pairs", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sync.db")
		require.NoError(t, os.WriteFile(path, []byte("e1 aaa\ne2 bbb\n\n"), 0o600))

		db, err := LoadSyncDB(path)
		require.NoError(t, err)
		assert.Equal(t, SyncDB{"e1": "aaa", "e2": "bbb"}, db)
	})

	t.Run("malformed record fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sync.db")
		require.NoError(t, os.WriteFile(path, []byte("e1 aaa\nbroken-line\n"), 0o600))

		_, err := LoadSyncDB(path)
		assert.ErrorContains(t, err, "line 2")
	})
}

func TestSyncDBSave(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sync.db")
		db := SyncDB{"e2": "bbb", "e1": "aaa"}
		require.NoError(t, db.Save(path))

		loaded, err := LoadSyncDB(path)
		require.NoError(t, err)
		assert.Equal(t, db, loaded)
	})

	t.Run("no temp file left behind", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sync.db")
		require.NoError(t, SyncDB{"e1": "aaa"}.Save(path))

		_, err := os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("empty database is a valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sync.db")
		require.NoError(t, SyncDB{}.Save(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Empty(t, data)

		loaded, err := LoadSyncDB(path)
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("overwrites prior content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sync.db")
		require.NoError(t, SyncDB{"e1": "aaa", "e2": "bbb"}.Save(path))
		require.NoError(t, SyncDB{"e3": "ccc"}.Save(path))

		loaded, err := LoadSyncDB(path)
		require.NoError(t, err)
		assert.Equal(t, SyncDB{"e3": "ccc"}, loaded)
	})

	t.Run("creates parent directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "caldav", "sync.db")
		require.NoError(t, SyncDB{"e1": "aaa"}.Save(path))
		assert.FileExists(t, path)
	})
}

func TestSyncDBSets(t *testing.T) {
	db := SyncDB{"e1": "aaa", "e2": "bbb", "e3": "aaa"}

	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, db.ETags().ToSlice())
	assert.ElementsMatch(t, []string{"aaa", "bbb"}, db.Hashes().ToSlice())
}
