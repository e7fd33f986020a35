package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "videos", "pulse_jobs"} {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s should exist", table)
	}
}

func TestMigrate(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))
		require.NoError(t, Migrate(db, nil))

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		files, err := migrationFiles()
		require.NoError(t, err)
		assert.Equal(t, len(files), count)
	})

	t.Run("video_name is unique", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec("INSERT INTO videos (video_name) VALUES ('a.mp4')")
		require.NoError(t, err)
		_, err = db.Exec("INSERT INTO videos (video_name) VALUES ('a.mp4')")
		assert.Error(t, err)
	})

	t.Run("wraps migration errors with file name", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		// A view named like the table makes CREATE TABLE fail
		_, err = db.Exec("CREATE VIEW videos AS SELECT 1 AS x")
		require.NoError(t, err)

		err = Migrate(db, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "001_create_videos.sql")
	})
}

func TestStatus(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	before, err := Status(db)
	require.NoError(t, err)
	require.NotEmpty(t, before)
	for _, m := range before {
		assert.False(t, m.Applied, m.File)
	}
	assert.Equal(t, "000", before[0].Version)

	require.NoError(t, Migrate(db, nil))

	after, err := Status(db)
	require.NoError(t, err)
	for _, m := range after {
		assert.True(t, m.Applied, m.File)
	}
}
