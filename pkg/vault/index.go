package vault

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // CGO-free sqlite driver
)

// openIndex opens (creating if needed) a partition's sqlite index and
// ensures the schema exists. Idempotent.
func openIndex(indexPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", indexPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping index: %w", err)
	}

	// sqlite supports a single writer; serialize at the pool level.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createIndexSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return db, nil
}

func createIndexSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		file_path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		mtime REAL NOT NULL,
		last_indexed_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		heading_path TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create index schema: %w", err)
	}
	return nil
}

// indexPathFor maps a partition name onto its sqlite file under the index
// root.
func indexPathFor(indexRoot, vaultName string) string {
	return filepath.Join(indexRoot, vaultName+".sqlite3")
}
