package index

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Filter narrows a document query. Zero-valued fields are inactive.
type Filter struct {
	LibraryId  string
	Category   string
	Author     string
	ReadStatus string
	MinRating  int
	// Tags uses AND semantics: a document must carry every listed tag.
	// Matching is case-insensitive.
	Tags      []string
	FileTypes []string
	Favorite  *bool
	// AddedAfter/AddedBefore bound the sidecar date_added field.
	AddedAfter  time.Time
	AddedBefore time.Time
}

// Sort selects the result ordering. Unknown fields silently fall back to
// date-added descending — a deliberate permissive default.
type Sort struct {
	Field      string // title|author|date_added|date_modified|file_name|file_size|rating
	Descending bool
}

// sortColumns whitelists sortable fields. Text fields compare NOCASE.
var sortColumns = map[string]string{
	"title":         "d.title COLLATE NOCASE",
	"author":        "a.name COLLATE NOCASE",
	"date_added":    "d.date_added",
	"date_modified": "d.date_modified",
	"file_name":     "d.file_name COLLATE NOCASE",
	"file_size":     "d.file_size",
	"rating":        "d.rating",
}

const selectColumns = `
	SELECT d.id, d.library_id, d.path, d.file_name, d.file_size, d.file_type,
	       d.title, COALESCE(a.name, ''), COALESCE(c.name, ''),
	       COALESCE((SELECT group_concat(t.name, char(31))
	                 FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
	                 WHERE dt.document_id = d.id), ''),
	       d.rating, d.read_status, d.favorite, d.source, d.notes,
	       d.date_added, d.date_modified, d.created_at, d.modified_at
	FROM documents d
	LEFT JOIN authors a ON a.id = d.author_id
	LEFT JOIN categories c ON c.id = d.category_id
`

// Query returns documents matching the filter in the requested order.
func (db *DB) Query(f Filter, s Sort, limit, offset int) ([]DocumentRow, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := buildWhere(f)
	q := selectColumns + where + " ORDER BY " + orderBy(s) + " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()
	return scanDocumentRows(rows)
}

// Count returns the number of documents matching the filter.
func (db *DB) Count(f Filter) (int, error) {
	where, args := buildWhere(f)
	q := `SELECT count(*) FROM documents d
	LEFT JOIN authors a ON a.id = d.author_id
	LEFT JOIN categories c ON c.id = d.category_id` + where

	var n int
	if err := db.conn.QueryRow(q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any

	if f.LibraryId != "" {
		conds = append(conds, "d.library_id = ?")
		args = append(args, f.LibraryId)
	}
	if f.Category != "" {
		conds = append(conds, "c.name = ?")
		args = append(args, f.Category)
	}
	if f.Author != "" {
		conds = append(conds, "a.name = ?")
		args = append(args, f.Author)
	}
	if f.ReadStatus != "" {
		conds = append(conds, "d.read_status = ?")
		args = append(args, f.ReadStatus)
	}
	if f.MinRating > 0 {
		conds = append(conds, "d.rating >= ?")
		args = append(args, f.MinRating)
	}
	if len(f.Tags) > 0 {
		// AND semantics: the document must link to every requested tag.
		// The tags.name column is COLLATE NOCASE so IN matches
		// case-insensitively.
		placeholders := strings.Repeat("?,", len(f.Tags)-1) + "?"
		conds = append(conds, fmt.Sprintf(`d.id IN (
			SELECT dt.document_id FROM document_tags dt
			JOIN tags t ON t.id = dt.tag_id
			WHERE t.name IN (%s)
			GROUP BY dt.document_id
			HAVING count(DISTINCT t.id) = ?)`, placeholders))
		for _, tag := range f.Tags {
			args = append(args, tag)
		}
		args = append(args, len(f.Tags))
	}
	if len(f.FileTypes) > 0 {
		placeholders := strings.Repeat("?,", len(f.FileTypes)-1) + "?"
		conds = append(conds, fmt.Sprintf("d.file_type IN (%s)", placeholders))
		for _, ft := range f.FileTypes {
			args = append(args, strings.ToLower(ft))
		}
	}
	if f.Favorite != nil {
		conds = append(conds, "d.favorite = ?")
		args = append(args, *f.Favorite)
	}
	if !f.AddedAfter.IsZero() {
		conds = append(conds, "d.date_added >= ?")
		args = append(args, f.AddedAfter)
	}
	if !f.AddedBefore.IsZero() {
		conds = append(conds, "d.date_added <= ?")
		args = append(args, f.AddedBefore)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderBy(s Sort) string {
	col, ok := sortColumns[s.Field]
	if !ok {
		return "d.date_added DESC"
	}
	if s.Descending {
		return col + " DESC"
	}
	return col + " ASC"
}

// likeSearch is the literal-substring search path: the whole search for
// the non-FTS build, and the degradation path when FTS5 rejects a term.
// Title matches sort first, then author, then everything else.
func (db *DB) likeSearch(term string, limit, offset int) ([]DocumentRow, error) {
	like := "%" + term + "%"
	rows, err := db.conn.Query(selectColumns+`
	WHERE d.title LIKE ? OR a.name LIKE ? OR d.file_name LIKE ? OR d.notes LIKE ? OR d.body LIKE ?
	   OR EXISTS (SELECT 1 FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
	              WHERE dt.document_id = d.id AND t.name LIKE ?)
	ORDER BY CASE
		WHEN d.title LIKE ? THEN 0
		WHEN a.name LIKE ? THEN 1
		ELSE 2
	END, d.title COLLATE NOCASE
	LIMIT ? OFFSET ?
	`, like, like, like, like, like, like, like, like, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()
	return scanDocumentRows(rows)
}

// scanDocumentRows materializes DocumentRow values from the shared
// column list, splitting the aggregated tag string.
func scanDocumentRows(rows *sql.Rows) ([]DocumentRow, error) {
	var out []DocumentRow
	for rows.Next() {
		var r DocumentRow
		var tags string
		var dateAdded, dateModified sql.NullTime
		if err := rows.Scan(&r.Id, &r.LibraryId, &r.Path, &r.FileName, &r.FileSize, &r.FileType,
			&r.Title, &r.Author, &r.Category, &tags,
			&r.Rating, &r.ReadStatus, &r.Favorite, &r.Source, &r.Notes,
			&dateAdded, &dateModified, &r.CreatedAt, &r.ModifiedAt); err != nil {
			return nil, err
		}
		if tags != "" {
			r.Tags = strings.Split(tags, "\x1f")
		}
		if dateAdded.Valid {
			r.DateAdded = dateAdded.Time
		}
		if dateModified.Valid {
			r.DateModified = dateModified.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
