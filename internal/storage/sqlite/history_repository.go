package sqlite

import (
	"database/sql"
	"time"

	"github.com/italolelis/media_downloader/internal/storage"
)

// HistoryRepository stores download outcomes in SQLite. It implements both
// storage.DownloadReadRepository and storage.DownloadWriteRepository.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

// RecordOutcome upserts the terminal outcome of a download execution.
func (r *HistoryRepository) RecordOutcome(downloadID, url, platform, name, status, outputPath string) error {
	_, err := r.db.Exec(`
		INSERT INTO downloads (download_id, url, platform, name, status, output_path, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(download_id) DO UPDATE SET
			status = excluded.status,
			output_path = excluded.output_path,
			finished_at = excluded.finished_at
	`, downloadID, url, platform, name, status, outputPath, time.Now().Format(time.RFC3339))

	return err
}

func (r *HistoryRepository) DeleteRecord(downloadID string) error {
	_, err := r.db.Exec(`DELETE FROM downloads WHERE download_id = ?`, downloadID)

	return err
}

func (r *HistoryRepository) GetHistory() ([]storage.HistoryRecord, error) {
	rows, err := r.db.Query(`
		SELECT download_id, url, platform, name, status, output_path, finished_at
		FROM downloads
		ORDER BY finished_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetCompletedBefore returns completed downloads finished before the cutoff,
// used by the retention cleanup.
func (r *HistoryRepository) GetCompletedBefore(cutoff string) ([]storage.HistoryRecord, error) {
	rows, err := r.db.Query(`
		SELECT download_id, url, platform, name, status, output_path, finished_at
		FROM downloads
		WHERE status = 'completed' AND finished_at < ?
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]storage.HistoryRecord, error) {
	var records []storage.HistoryRecord

	for rows.Next() {
		var (
			record     storage.HistoryRecord
			outputPath sql.NullString
			finishedAt sql.NullString
		)

		if err := rows.Scan(&record.DownloadID, &record.URL, &record.Platform, &record.Name, &record.Status, &outputPath, &finishedAt); err != nil {
			return nil, err
		}

		if outputPath.Valid {
			record.OutputPath = outputPath.String
		}

		if finishedAt.Valid {
			record.FinishedAt = finishedAt.String
		}

		records = append(records, record)
	}

	return records, rows.Err()
}
