package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/media_downloader/internal/storage"
)

type fakeRepo struct {
	expired []storage.HistoryRecord
	deleted []string
}

func (f *fakeRepo) GetCompletedBefore(string) ([]storage.HistoryRecord, error) {
	return f.expired, nil
}

func (f *fakeRepo) DeleteRecord(downloadID string) error {
	f.deleted = append(f.deleted, downloadID)

	return nil
}

func TestDeleteExpiredDownloads(t *testing.T) {
	dir := t.TempDir()

	onDisk := filepath.Join(dir, "old.mp4")
	require.NoError(t, os.WriteFile(onDisk, []byte("payload"), 0o644))

	repo := &fakeRepo{expired: []storage.HistoryRecord{
		{DownloadID: "d1", OutputPath: onDisk},
		{DownloadID: "d2", OutputPath: filepath.Join(dir, "already-gone.mp4")},
	}}

	require.NoError(t, DeleteExpiredDownloads(context.Background(), repo, time.Hour))

	_, err := os.Stat(onDisk)
	assert.True(t, os.IsNotExist(err))

	// Records go even when the file was already gone.
	assert.Equal(t, []string{"d1", "d2"}, repo.deleted)
}
