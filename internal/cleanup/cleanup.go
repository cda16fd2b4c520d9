package cleanup

import (
	"context"
	"os"
	"time"

	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/storage"
)

// Repository is the slice of the history store the cleaner needs.
type Repository interface {
	GetCompletedBefore(cutoff string) ([]storage.HistoryRecord, error)
	DeleteRecord(downloadID string) error
}

// DeleteExpiredDownloads removes completed download files older than
// keepDuration, along with their history records. A file already gone on
// disk still drops its record.
func DeleteExpiredDownloads(ctx context.Context, repo Repository, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)

	cutoff := time.Now().Add(-keepDuration).Format(time.RFC3339)

	records, err := repo.GetCompletedBefore(cutoff)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.OutputPath != "" {
			if err := os.RemoveAll(rec.OutputPath); err != nil {
				logger.Error("failed to delete expired download", "path", rec.OutputPath, "err", err)

				continue
			}
		}

		if err := repo.DeleteRecord(rec.DownloadID); err != nil {
			logger.Error("failed to delete history record", "download_id", rec.DownloadID, "err", err)

			continue
		}

		logger.Info("deleted expired download", "download_id", rec.DownloadID, "path", rec.OutputPath)
	}

	return nil
}

// Run drives the retention cleanup on a fixed interval until the context is
// cancelled.
func Run(ctx context.Context, repo Repository, keepDuration, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := DeleteExpiredDownloads(ctx, repo, keepDuration); err != nil {
				logger.Error("retention cleanup failed", "err", err)
			}
		}
	}
}
