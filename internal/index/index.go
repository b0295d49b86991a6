package index

import "time"

// DocumentIndex defines the interface for index operations. Consumers
// should depend on this interface rather than the concrete *DB type to
// facilitate testing with mocks.
type DocumentIndex interface {
	UpsertDocument(row DocumentRow, body string) error
	DeleteDocument(id string) error
	Query(f Filter, s Sort, limit, offset int) ([]DocumentRow, error)
	Count(f Filter) (int, error)
	Search(term string, limit, offset int) ([]DocumentRow, error)
	PruneOrphanDimensions() error
	PathsForLibrary(libraryId string) (map[string]time.Time, error)
	IdForPath(path string) (string, error)
	CountAll() (int, error)
	GetSyncCursor(libraryId string) (time.Time, error)
	SetSyncCursor(libraryId string, t time.Time) error
	Close() error
}

// Verify *DB satisfies DocumentIndex at compile time.
var _ DocumentIndex = (*DB)(nil)
