// Package index provides the SQLite-backed document index: a normalized
// relational projection of the filesystem with optional FTS5 full-text
// search. The index is derived state — it can always be discarded and
// rebuilt by re-running a full sync over all libraries.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS authors (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS categories (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS tags (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	library_id    TEXT NOT NULL,
	path          TEXT NOT NULL UNIQUE,
	file_name     TEXT NOT NULL,
	file_size     INTEGER NOT NULL DEFAULT 0,
	file_type     TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	author_id     INTEGER REFERENCES authors(id),
	category_id   INTEGER REFERENCES categories(id),
	rating        INTEGER NOT NULL DEFAULT 0,
	read_status   TEXT NOT NULL DEFAULT 'unread',
	favorite      INTEGER NOT NULL DEFAULT 0,
	source        TEXT NOT NULL DEFAULT '',
	notes         TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	date_added    DATETIME,
	date_modified DATETIME,
	created_at    DATETIME NOT NULL,
	modified_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_library ON documents(library_id);
CREATE INDEX IF NOT EXISTS idx_documents_author ON documents(author_id);
CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category_id);

CREATE TABLE IF NOT EXISTS document_tags (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	tag_id      INTEGER NOT NULL REFERENCES tags(id),
	UNIQUE(document_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_document_tags_tag ON document_tags(tag_id);

CREATE TABLE IF NOT EXISTS sync_state (
	library_id     TEXT PRIMARY KEY,
	last_synced_at DATETIME NOT NULL
);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
// Schema creation is idempotent (CREATE IF NOT EXISTS throughout), so
// racing first-callers cannot corrupt or duplicate schema objects.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
