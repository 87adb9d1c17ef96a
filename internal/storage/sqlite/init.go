package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the archived_files
// table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS archived_files (
		id INTEGER PRIMARY KEY,
		user_id TEXT,
		guild TEXT,
		channel TEXT,
		thread TEXT,
		filename TEXT,
		file_path TEXT,
		message_link TEXT,
		size_bytes INTEGER DEFAULT 0,
		downloaded_at DATETIME
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
