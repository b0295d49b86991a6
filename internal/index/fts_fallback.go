//go:build !sqlite_fts5

package index

import "database/sql"

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; search uses the LIKE fallback over the
	// columns already stored in the documents table.
	return nil
}

func ftsUpsert(_ *sql.Tx, _ DocumentRow, _ string) error {
	// Searchable text already lives in the documents row.
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// Search performs a literal substring search (fallback when FTS5 is not
// compiled in). Title matches sort first, then author, then the rest.
func (db *DB) Search(term string, limit, offset int) ([]DocumentRow, error) {
	if limit <= 0 {
		limit = 20
	}
	return db.likeSearch(term, limit, offset)
}
