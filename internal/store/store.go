// Package store provides the SQLite persistence layer for documents,
// pages and folders.
//
// The database runs embedded with WAL mode so readers stay unblocked
// while the sync engine writes. All JSON-shaped columns (tags, crop,
// ocr data, ...) are stored as TEXT holding canonical JSON.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a document, page or folder does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// If the database doesn't exist, it is created along with the schema.
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// WAL keeps readers unblocked during sync writes
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// initSchema creates the schema if it doesn't exist. Idempotent.
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		created_date INTEGER NOT NULL,
		modified_date INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		tags TEXT,         -- JSON array
		pages_order TEXT,  -- JSON array of page ids
		synced INTEGER NOT NULL DEFAULT 0,
		extra TEXT         -- JSON object
	);

	CREATE TABLE IF NOT EXISTS pages (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		created_date INTEGER NOT NULL,
		modified_date INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		rotation REAL NOT NULL DEFAULT 0,
		scale REAL NOT NULL DEFAULT 1,
		crop TEXT,        -- JSON quad
		transforms TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		image_path TEXT NOT NULL DEFAULT '',
		source_image_path TEXT NOT NULL DEFAULT '',
		source_image_width INTEGER NOT NULL DEFAULT 0,
		source_image_height INTEGER NOT NULL DEFAULT 0,
		source_image_rotation REAL NOT NULL DEFAULT 0,
		ocr_data TEXT,    -- JSON
		qrcode TEXT,      -- JSON
		colors TEXT,      -- JSON
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS folders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL DEFAULT '',
		modified_date INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS documents_folders (
		document_id TEXT NOT NULL,
		folder_id INTEGER NOT NULL,
		PRIMARY KEY (document_id, folder_id),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
		FOREIGN KEY (folder_id) REFERENCES folders(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_pages_document ON pages(document_id);
	CREATE INDEX IF NOT EXISTS idx_documents_synced ON documents(synced);
	CREATE INDEX IF NOT EXISTS idx_documents_modified ON documents(modified_date);
	CREATE INDEX IF NOT EXISTS idx_docfolders_folder ON documents_folders(folder_id);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
