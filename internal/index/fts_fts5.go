//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			id UNINDEXED,
			title,
			author,
			tags,
			notes,
			file_name,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, row DocumentRow, body string) error {
	_, _ = tx.Exec(`DELETE FROM documents_fts WHERE id = ?`, row.Id)
	_, err := tx.Exec(`
		INSERT INTO documents_fts (id, title, author, tags, notes, file_name, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.Id, row.Title, row.Author, strings.Join(row.Tags, " "), row.Notes, row.FileName, body)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM documents_fts WHERE id = ?`, id)
}

// Search runs a ranked FTS5 query. Title matches weigh highest, then
// author and tags, then notes and file name. Terms match by prefix. If
// FTS5 cannot parse the term (special characters), the search silently
// degrades to a literal substring match.
func (db *DB) Search(term string, limit, offset int) ([]DocumentRow, error) {
	if limit <= 0 {
		limit = 20
	}
	match := ftsQuery(term)
	if match == "" {
		return db.likeSearch(term, limit, offset)
	}
	rows, err := db.conn.Query(`
		SELECT d.id, d.library_id, d.path, d.file_name, d.file_size, d.file_type,
		       d.title, COALESCE(a.name, ''), COALESCE(c.name, ''),
		       COALESCE((SELECT group_concat(t.name, char(31))
		                 FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
		                 WHERE dt.document_id = d.id), ''),
		       d.rating, d.read_status, d.favorite, d.source, d.notes,
		       d.date_added, d.date_modified, d.created_at, d.modified_at
		FROM documents_fts f
		JOIN documents d ON d.id = f.id
		LEFT JOIN authors a ON a.id = d.author_id
		LEFT JOIN categories c ON c.id = d.category_id
		WHERE documents_fts MATCH ?
		ORDER BY bm25(documents_fts, 0, 10.0, 5.0, 5.0, 2.0, 1.0, 1.0)
		LIMIT ? OFFSET ?
	`, match, limit, offset)
	if err != nil {
		// Unparseable term; degrade to substring matching.
		slog.Debug("index: fts query fallback", slog.String("term", term), slog.String("error", err.Error()))
		return db.likeSearch(term, limit, offset)
	}
	defer rows.Close()
	return scanDocumentRows(rows)
}

// ftsQuery builds a prefix-matching FTS5 query from free text. Each
// token is quoted so user input cannot inject query syntax.
func ftsQuery(term string) string {
	fields := strings.Fields(term)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		parts = append(parts, `"`+f+`"*`)
	}
	return strings.Join(parts, " ")
}
