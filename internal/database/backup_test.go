package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fieldbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "source.db")
	storagePath := filepath.Join(tempDir, "backups")

	logger := zerolog.Nop()
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.CreateBookingWithLock(ctx, newTestBooking(day(2025, 3, 10), "a@example.com"), 1))

	s := NewBackupService(db, dbPath, config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}, &logger)

	var snapshot string
	t.Run("PerformBackup", func(t *testing.T) {
		snapshot, err = s.PerformBackup(ctx)
		require.NoError(t, err)

		restored, err := NewDB(snapshot, &logger)
		require.NoError(t, err)
		defer restored.Close()

		rows, err := restored.GetBookingsByDateRange(ctx, day(2025, 3, 1), day(2025, 3, 31))
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, backupPrefix+"old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))
		foreign := filepath.Join(storagePath, "notes.txt")
		require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))
		require.NoError(t, os.Chtimes(foreign, oldTime, oldTime))

		assert.Equal(t, 1, s.CleanupOldBackups())

		assert.FileExists(t, snapshot)
		assert.FileExists(t, foreign)
		assert.NoFileExists(t, oldFile)
	})
}

func TestBackupService_Disabled(_ *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService(nil, "any", config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
}
