package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB initializes the SQLite database and creates the downloads table if it doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		download_id TEXT UNIQUE,
		url TEXT,
		platform TEXT,
		name TEXT,
		status TEXT,
		output_path TEXT,
		finished_at DATETIME
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
