// Package docsvc coordinates the index, the scanner, and sidecar writes
// behind one service surface. Reads of document content always come from
// disk; only listing, filtering, and search go through the index.
package docsvc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hverdal/arkiv/internal/apperr"
	"github.com/hverdal/arkiv/internal/docid"
	"github.com/hverdal/arkiv/internal/index"
	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/scanner"
	"github.com/hverdal/arkiv/internal/sidecar"
	"github.com/hverdal/arkiv/internal/syncer"
)

// Detail is the full representation of one document, read live from the
// filesystem rather than the index.
type Detail struct {
	Id         string           `json:"id"`
	LibraryId  string           `json:"library_id"`
	Path       string           `json:"path"`
	FileName   string           `json:"file_name"`
	FileSize   int64            `json:"file_size"`
	FileType   string           `json:"file_type"`
	Metadata   sidecar.Metadata `json:"metadata"`
	Body       string           `json:"body,omitempty"`
	HasSidecar bool             `json:"has_sidecar"`
	CreatedAt  time.Time        `json:"created_at"`
	ModifiedAt time.Time        `json:"modified_at"`
}

// Service answers queries and performs metadata writes.
type Service struct {
	db     index.DocumentIndex
	libs   library.Store
	logger *slog.Logger
	opts   scanner.Options
}

// NewService creates a document service. maxDepth bounds fallback scans
// the same way it bounds sync scans (0 = unlimited).
func NewService(db index.DocumentIndex, libs library.Store, logger *slog.Logger, maxDepth int) *Service {
	return &Service{
		db:     db,
		libs:   libs,
		logger: logger,
		opts:   scanner.Options{Recursive: true, MaxDepth: maxDepth},
	}
}

// Query returns documents matching the filter plus the total match count.
// With an empty index (cold start, or a deleted index file) it falls back
// to scanning the libraries directly, so results never depend on a sync
// having run first.
func (s *Service) Query(ctx context.Context, f index.Filter, srt index.Sort, limit, offset int) ([]index.DocumentRow, int, error) {
	if limit <= 0 {
		limit = 50
	}

	n, err := s.db.CountAll()
	if err != nil {
		// An unreadable index degrades to a live scan, same as an empty one.
		s.logger.Debug("index count failed, falling back to scan", "error", err)
	}
	if err != nil || n == 0 {
		rows, err := s.scanRows(ctx, f.LibraryId)
		if err != nil {
			return nil, 0, err
		}
		rows = filterRows(rows, f)
		sortRows(rows, srt)
		total := len(rows)
		return paginate(rows, limit, offset), total, nil
	}

	rows, err := s.db.Query(f, srt, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.db.Count(f)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Search runs a full-text search. The cold-start fallback degrades to a
// case-insensitive substring match over the scanned documents.
func (s *Service) Search(ctx context.Context, term string, limit, offset int) ([]index.DocumentRow, error) {
	if limit <= 0 {
		limit = 50
	}

	n, err := s.db.CountAll()
	if err != nil {
		s.logger.Debug("index count failed, falling back to scan", "error", err)
	}
	if err != nil || n == 0 {
		rows, err := s.scanRows(ctx, "")
		if err != nil {
			return nil, err
		}
		return paginate(searchRows(rows, term), limit, offset), nil
	}
	return s.db.Search(term, limit, offset)
}

// GetDocument reads one document live from disk.
func (s *Service) GetDocument(_ context.Context, path string) (*Detail, error) {
	norm := docid.Normalize(path)
	lib, err := s.libraryFor(norm)
	if err != nil {
		return nil, err
	}
	return s.load(lib.Id, norm)
}

// WriteMetadata encodes the metadata into the document's sidecar,
// replaces the sidecar atomically, and updates the index in the same
// call. A read issued after WriteMetadata returns sees the new values in
// query results — the index write is synchronous, not deferred to the
// next sync.
func (s *Service) WriteMetadata(_ context.Context, path string, m sidecar.Metadata, body string) (*Detail, error) {
	norm := docid.Normalize(path)
	if sidecar.IsSidecar(norm) {
		return nil, fmt.Errorf("docsvc: %s is a sidecar, not a document", norm)
	}
	lib, err := s.libraryFor(norm)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(norm); err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("docsvc: stat %s: %w", norm, err)
	}
	// Title is the one required metadata field; a blank title would decode
	// as "no usable metadata" and be replaced with defaults on every read.
	if strings.TrimSpace(m.Title) == "" {
		return nil, fmt.Errorf("docsvc: metadata title is required")
	}

	// Writing never loses the original add date: an unset DateAdded
	// inherits from the existing sidecar, or defaults to now for the
	// first write.
	scPath := sidecar.PathFor(norm)
	if m.DateAdded.IsZero() {
		m.DateAdded = time.Now()
		if data, readErr := os.ReadFile(scPath); readErr == nil {
			if prev, _ := sidecar.Decode(data); !prev.DateAdded.IsZero() {
				m.DateAdded = prev.DateAdded
			}
		}
	}
	m.DateModified = time.Now()

	if err := atomicWrite(scPath, sidecar.Encode(m, body)); err != nil {
		return nil, err
	}

	detail, err := s.load(lib.Id, norm)
	if err != nil {
		return nil, err
	}
	row := syncer.RowFromDocument(lib.Id, scanner.Document{
		Id:         detail.Id,
		Path:       detail.Path,
		FileName:   detail.FileName,
		FileSize:   detail.FileSize,
		FileType:   detail.FileType,
		Metadata:   detail.Metadata,
		Body:       detail.Body,
		CreatedAt:  detail.CreatedAt,
		ModifiedAt: detail.ModifiedAt,
	})
	if err := s.db.UpsertDocument(row, detail.Body); err != nil {
		return nil, fmt.Errorf("docsvc: index after write: %w", err)
	}
	s.logger.Info("docsvc: metadata written",
		slog.String("path", norm), slog.String("library", lib.Id))
	return detail, nil
}

// load builds a Detail from the primary file and its sidecar on disk.
func (s *Service) load(libraryId, norm string) (*Detail, error) {
	info, err := os.Stat(norm)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("docsvc: stat %s: %w", norm, err)
	}
	if info.IsDir() || sidecar.IsSidecar(norm) {
		return nil, apperr.ErrNotFound
	}

	d := &Detail{
		Id:         docid.FromPath(norm),
		LibraryId:  libraryId,
		Path:       norm,
		FileName:   filepath.Base(norm),
		FileSize:   info.Size(),
		FileType:   strings.ToLower(strings.TrimPrefix(filepath.Ext(norm), ".")),
		Metadata:   sidecar.Default(norm),
		CreatedAt:  info.ModTime(),
		ModifiedAt: info.ModTime(),
	}

	data, err := os.ReadFile(sidecar.PathFor(norm))
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("docsvc: read sidecar: %w", err)
	}
	d.Metadata, d.Body = sidecar.Decode(data)
	d.HasSidecar = true
	if scInfo, statErr := os.Stat(sidecar.PathFor(norm)); statErr == nil && scInfo.ModTime().After(d.ModifiedAt) {
		d.ModifiedAt = scInfo.ModTime()
	}
	return d, nil
}

// libraryFor maps an absolute path to the configured library containing
// it.
func (s *Service) libraryFor(norm string) (library.Library, error) {
	all, err := s.libs.List()
	if err != nil {
		return library.Library{}, err
	}
	for _, lib := range all {
		root := docid.Normalize(lib.RootPath)
		if norm == root || strings.HasPrefix(norm, root+"/") {
			return lib, nil
		}
	}
	return library.Library{}, fmt.Errorf("docsvc: %s is outside every configured library: %w", norm, apperr.ErrNotFound)
}

// scanRows scans the given library (or all libraries) and projects the
// documents into index rows for in-memory filtering.
func (s *Service) scanRows(_ context.Context, libraryId string) ([]index.DocumentRow, error) {
	all, err := s.libs.List()
	if err != nil {
		return nil, err
	}
	var rows []index.DocumentRow
	for _, lib := range all {
		if libraryId != "" && lib.Id != libraryId {
			continue
		}
		res, err := scanner.Scan(lib.RootPath, s.opts)
		if err != nil {
			s.logger.Warn("docsvc: fallback scan failed",
				slog.String("library", lib.Id), slog.String("error", err.Error()))
			continue
		}
		for _, doc := range res.Documents {
			rows = append(rows, syncer.RowFromDocument(lib.Id, doc))
		}
	}
	return rows, nil
}

// filterRows applies the filter with the same semantics as the SQL path:
// name matches are case-insensitive, tags use AND semantics.
func filterRows(rows []index.DocumentRow, f index.Filter) []index.DocumentRow {
	out := rows[:0]
	for _, r := range rows {
		if f.LibraryId != "" && r.LibraryId != f.LibraryId {
			continue
		}
		if f.Category != "" && !strings.EqualFold(r.Category, f.Category) {
			continue
		}
		if f.Author != "" && !strings.EqualFold(r.Author, f.Author) {
			continue
		}
		if f.ReadStatus != "" && r.ReadStatus != f.ReadStatus {
			continue
		}
		if f.MinRating > 0 && r.Rating < f.MinRating {
			continue
		}
		if len(f.Tags) > 0 && !hasAllTags(r.Tags, f.Tags) {
			continue
		}
		if len(f.FileTypes) > 0 && !containsFold(f.FileTypes, r.FileType) {
			continue
		}
		if f.Favorite != nil && r.Favorite != *f.Favorite {
			continue
		}
		if !f.AddedAfter.IsZero() && r.DateAdded.Before(f.AddedAfter) {
			continue
		}
		if !f.AddedBefore.IsZero() && r.DateAdded.After(f.AddedBefore) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		if !containsFold(have, w) {
			return false
		}
	}
	return true
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// sortRows mirrors the SQL ordering, including the permissive fallback
// to date-added descending for unknown fields.
func sortRows(rows []index.DocumentRow, s index.Sort) {
	var less func(a, b index.DocumentRow) bool
	switch s.Field {
	case "title":
		less = func(a, b index.DocumentRow) bool { return lowerLess(a.Title, b.Title) }
	case "author":
		less = func(a, b index.DocumentRow) bool { return lowerLess(a.Author, b.Author) }
	case "date_modified":
		less = func(a, b index.DocumentRow) bool { return a.DateModified.Before(b.DateModified) }
	case "file_name":
		less = func(a, b index.DocumentRow) bool { return lowerLess(a.FileName, b.FileName) }
	case "file_size":
		less = func(a, b index.DocumentRow) bool { return a.FileSize < b.FileSize }
	case "rating":
		less = func(a, b index.DocumentRow) bool { return a.Rating < b.Rating }
	case "date_added":
		less = func(a, b index.DocumentRow) bool { return a.DateAdded.Before(b.DateAdded) }
	default:
		sort.SliceStable(rows, func(i, j int) bool { return rows[j].DateAdded.Before(rows[i].DateAdded) })
		return
	}
	if s.Descending {
		sort.SliceStable(rows, func(i, j int) bool { return less(rows[j], rows[i]) })
	} else {
		sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	}
}

func lowerLess(a, b string) bool {
	return strings.ToLower(a) < strings.ToLower(b)
}

// searchRows is the in-memory analogue of the substring search: matches
// on title, author, file name, notes, tags, or body, ranked title first,
// then author, then the rest.
func searchRows(rows []index.DocumentRow, term string) []index.DocumentRow {
	t := strings.ToLower(term)
	type ranked struct {
		row  index.DocumentRow
		rank int
	}
	var hits []ranked
	for _, r := range rows {
		switch {
		case strings.Contains(strings.ToLower(r.Title), t):
			hits = append(hits, ranked{r, 0})
		case strings.Contains(strings.ToLower(r.Author), t):
			hits = append(hits, ranked{r, 1})
		case strings.Contains(strings.ToLower(r.FileName), t),
			strings.Contains(strings.ToLower(r.Notes), t),
			anyContainsFold(r.Tags, t):
			hits = append(hits, ranked{r, 2})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return lowerLess(hits[i].row.Title, hits[j].row.Title)
	})
	out := make([]index.DocumentRow, len(hits))
	for i, h := range hits {
		out[i] = h.row
	}
	return out
}

func anyContainsFold(list []string, lowered string) bool {
	for _, v := range list {
		if strings.Contains(strings.ToLower(v), lowered) {
			return true
		}
	}
	return false
}

func paginate(rows []index.DocumentRow, limit, offset int) []index.DocumentRow {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// atomicWrite replaces path via tmp file → fsync → rename so a crashed
// write never leaves a truncated sidecar behind.
func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".arkiv-tmp-*")
	if err != nil {
		return fmt.Errorf("docsvc: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("docsvc: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("docsvc: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("docsvc: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("docsvc: rename: %w", err)
	}
	success = true
	return nil
}
