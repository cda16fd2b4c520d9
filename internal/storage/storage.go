package storage

// HistoryRecord is the persisted outcome of one finished download.
type HistoryRecord struct {
	DownloadID string
	URL        string
	Platform   string
	Name       string
	Status     string
	OutputPath string
	FinishedAt string
}

type DownloadReadRepository interface {
	GetHistory() ([]HistoryRecord, error)
	GetCompletedBefore(cutoff string) ([]HistoryRecord, error) // for retention cleanup
}

type DownloadWriteRepository interface {
	RecordOutcome(downloadID, url, platform, name, status, outputPath string) error
	DeleteRecord(downloadID string) error
}
