package index

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DocumentRow is the index's normalized projection of a scanned document.
// Author, Category, and Tags are plain strings here; the dimension-table
// resolution happens inside UpsertDocument.
type DocumentRow struct {
	Id           string
	LibraryId    string
	Path         string
	FileName     string
	FileSize     int64
	FileType     string
	Title        string
	Author       string
	Category     string
	Tags         []string
	Rating       int
	ReadStatus   string
	Favorite     bool
	Source       string
	Notes        string
	DateAdded    time.Time
	DateModified time.Time
	CreatedAt    time.Time
	ModifiedAt   time.Time
}

// UpsertDocument inserts or updates a document row, re-resolving its
// dimension references and fully replacing its tag links, and refreshes
// the full-text row — all in one transaction. Keyed by id; since the id
// is path-derived, it is effectively keyed by normalized path too.
func (db *DB) UpsertDocument(row DocumentRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	authorId, err := getOrCreateDim(tx, "authors", row.Author)
	if err != nil {
		return err
	}
	categoryId, err := getOrCreateDim(tx, "categories", row.Category)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO documents (
			id, library_id, path, file_name, file_size, file_type,
			title, author_id, category_id, rating, read_status, favorite,
			source, notes, body, date_added, date_modified, created_at, modified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			library_id    = excluded.library_id,
			path          = excluded.path,
			file_name     = excluded.file_name,
			file_size     = excluded.file_size,
			file_type     = excluded.file_type,
			title         = excluded.title,
			author_id     = excluded.author_id,
			category_id   = excluded.category_id,
			rating        = excluded.rating,
			read_status   = excluded.read_status,
			favorite      = excluded.favorite,
			source        = excluded.source,
			notes         = excluded.notes,
			body          = excluded.body,
			date_added    = excluded.date_added,
			date_modified = excluded.date_modified,
			created_at    = excluded.created_at,
			modified_at   = excluded.modified_at
	`, row.Id, row.LibraryId, row.Path, row.FileName, row.FileSize, row.FileType,
		row.Title, authorId, categoryId, row.Rating, row.ReadStatus, row.Favorite,
		row.Source, row.Notes, body, nullTime(row.DateAdded), nullTime(row.DateModified),
		row.CreatedAt, row.ModifiedAt)
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	// Replace tag links: delete-all-then-insert so removed tags are
	// reflected.
	if _, err := tx.Exec(`DELETE FROM document_tags WHERE document_id = ?`, row.Id); err != nil {
		return fmt.Errorf("index: clear tag links: %w", err)
	}
	for _, tag := range row.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		tagId, err := getOrCreateDim(tx, "tags", tag)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO document_tags (document_id, tag_id) VALUES (?, ?)`,
			row.Id, tagId); err != nil {
			return fmt.Errorf("index: insert tag link: %w", err)
		}
	}

	if err := ftsUpsert(tx, row, body); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteDocument removes a document row, cascading to its tag links, and
// drops its full-text row in the same transaction.
func (db *DB) DeleteDocument(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	// Tag links cascade via the FK.
	if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete document: %w", err)
	}

	return tx.Commit()
}

// PruneOrphanDimensions garbage-collects author, category, and tag rows
// with no referencing documents. Safe to call after any batch of deletes.
func (db *DB) PruneOrphanDimensions() error {
	stmts := []string{
		`DELETE FROM authors WHERE id NOT IN (SELECT author_id FROM documents WHERE author_id IS NOT NULL)`,
		`DELETE FROM categories WHERE id NOT IN (SELECT category_id FROM documents WHERE category_id IS NOT NULL)`,
		`DELETE FROM tags WHERE id NOT IN (SELECT tag_id FROM document_tags)`,
	}
	for _, stmt := range stmts {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("index: prune dimensions: %w", err)
		}
	}
	return nil
}

// PathsForLibrary returns path → stored modification time for every
// document belonging to the library. The sync engine diffs this against
// scan output.
func (db *DB) PathsForLibrary(libraryId string) (map[string]time.Time, error) {
	rows, err := db.conn.Query(`SELECT path, modified_at FROM documents WHERE library_id = ?`, libraryId)
	if err != nil {
		return nil, fmt.Errorf("index: paths for library: %w", err)
	}
	defer rows.Close()
	out := make(map[string]time.Time)
	for rows.Next() {
		var p string
		var mt time.Time
		if err := rows.Scan(&p, &mt); err != nil {
			return nil, err
		}
		out[p] = mt
	}
	return out, rows.Err()
}

// IdForPath returns the stored id for a path, or empty string when the
// path is not indexed.
func (db *DB) IdForPath(path string) (string, error) {
	var id string
	err := db.conn.QueryRow(`SELECT id FROM documents WHERE path = ?`, path).Scan(&id)
	if err != nil {
		return "", nil // not found is fine
	}
	return id, nil
}

// CountAll returns the total number of indexed documents across all
// libraries. Zero means the query layer should fall back to live scans.
func (db *DB) CountAll() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count all: %w", err)
	}
	return n, nil
}

// GetSyncCursor returns the last successful sync time for a library, or
// the zero time when the library has never been synced.
func (db *DB) GetSyncCursor(libraryId string) (time.Time, error) {
	var t time.Time
	err := db.conn.QueryRow(`SELECT last_synced_at FROM sync_state WHERE library_id = ?`, libraryId).Scan(&t)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// SetSyncCursor records the last successful sync time for a library.
func (db *DB) SetSyncCursor(libraryId string, t time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO sync_state (library_id, last_synced_at) VALUES (?, ?)
		ON CONFLICT(library_id) DO UPDATE SET last_synced_at = excluded.last_synced_at
	`, libraryId, t)
	if err != nil {
		return fmt.Errorf("index: set sync cursor: %w", err)
	}
	return nil
}

// getOrCreateDim resolves a dimension row id by name (case-insensitive,
// case-preserving on first insert). Empty names resolve to NULL.
// Parallel library syncs can race on the same new name, so the insert
// tolerates an existing row and the id is read back afterwards.
func getOrCreateDim(tx *sql.Tx, table, name string) (sql.NullInt64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return sql.NullInt64{}, nil
	}
	_, err := tx.Exec(`INSERT INTO `+table+` (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return sql.NullInt64{}, fmt.Errorf("index: insert %s: %w", table, err)
	}
	var id int64
	if err := tx.QueryRow(`SELECT id FROM `+table+` WHERE name = ?`, name).Scan(&id); err != nil {
		return sql.NullInt64{}, fmt.Errorf("index: %s id: %w", table, err)
	}
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
