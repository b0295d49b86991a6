// Package syncer reconciles scanner output against the index: the full
// sync also removes index rows for vanished files, the quick sync only
// adds and updates for low-latency refresh.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hverdal/arkiv/internal/index"
	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/scanner"
)

// SyncError records a per-path failure that did not abort the run.
type SyncError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Result reports one sync run. Batch runs always complete their sweep
// and return partial counts plus the error list; they never abort on a
// per-document failure.
type Result struct {
	Added    int           `json:"added"`
	Updated  int           `json:"updated"`
	Removed  int           `json:"removed"`
	Errors   []SyncError   `json:"errors,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

func (r *Result) merge(other Result) {
	r.Added += other.Added
	r.Updated += other.Updated
	r.Removed += other.Removed
	r.Errors = append(r.Errors, other.Errors...)
}

// Engine reconciles libraries against the index. Runs for the same
// library are serialized through a per-library lock; runs for different
// libraries proceed concurrently.
type Engine struct {
	db     index.DocumentIndex
	libs   library.Store
	logger *slog.Logger
	opts   scanner.Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a sync engine. Scans are recursive with the given depth
// bound (0 = unlimited).
func New(db index.DocumentIndex, libs library.Store, logger *slog.Logger, maxDepth int) *Engine {
	return &Engine{
		db:     db,
		libs:   libs,
		logger: logger,
		opts:   scanner.Options{Recursive: true, MaxDepth: maxDepth},
		locks:  make(map[string]*sync.Mutex),
	}
}

// SyncLibrary performs a full reconciliation of one library: new files
// are inserted, changed files updated, vanished files removed, and
// orphaned dimension rows pruned.
func (e *Engine) SyncLibrary(ctx context.Context, id string) Result {
	return e.run(ctx, id, true)
}

// QuickSyncLibrary adds and updates only, skipping the removal sweep.
func (e *Engine) QuickSyncLibrary(ctx context.Context, id string) Result {
	return e.run(ctx, id, false)
}

// SyncAll runs a full sync over every configured library, in parallel
// across libraries, and returns the aggregated result.
func (e *Engine) SyncAll(ctx context.Context) Result {
	return e.runAll(ctx, true)
}

// QuickSync runs a quick sync over every configured library.
func (e *Engine) QuickSync(ctx context.Context) Result {
	return e.runAll(ctx, false)
}

func (e *Engine) runAll(ctx context.Context, removeStale bool) Result {
	start := time.Now()
	var res Result

	libs, err := e.libs.List()
	if err != nil {
		res.Errors = append(res.Errors, SyncError{Err: fmt.Sprintf("list libraries: %v", err)})
		res.Duration = time.Since(start)
		return res
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	for _, lib := range libs {
		g.Go(func() error {
			r := e.run(gCtx, lib.Id, removeStale)
			mu.Lock()
			res.merge(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = time.Since(start)
	return res
}

// run is the reconciliation core. removeStale distinguishes full sync
// from quick sync.
func (e *Engine) run(_ context.Context, id string, removeStale bool) Result {
	start := time.Now()
	var res Result
	fail := func(stage string, err error) Result {
		res.Errors = append(res.Errors, SyncError{Err: fmt.Sprintf("%s: %v", stage, err)})
		res.Duration = time.Since(start)
		return res
	}

	lib, err := e.libs.Get(id)
	if err != nil {
		return fail("resolve library", err)
	}

	// Single-writer-per-library: no two runs may write the same
	// library's rows at once, and the prune below must never overlap an
	// in-flight upsert.
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	scan, err := scanner.Scan(lib.RootPath, e.opts)
	if err != nil {
		return fail("scan root", err)
	}
	for _, se := range scan.Errors {
		res.Errors = append(res.Errors, SyncError{Path: se.Path, Err: se.Err.Error()})
	}

	indexed, err := e.db.PathsForLibrary(id)
	if err != nil {
		return fail("load indexed paths", err)
	}

	seen := make(map[string]struct{}, len(scan.Documents))
	for _, doc := range scan.Documents {
		seen[doc.Path] = struct{}{}

		stored, exists := indexed[doc.Path]
		if exists && !doc.ModifiedAt.After(stored) {
			// Unchanged; skipping the rewrite is the core optimization.
			continue
		}
		if upErr := e.db.UpsertDocument(RowFromDocument(id, doc), doc.Body); upErr != nil {
			res.Errors = append(res.Errors, SyncError{Path: doc.Path, Err: upErr.Error()})
			e.logger.Warn("sync: upsert failed", slog.String("path", doc.Path), slog.String("error", upErr.Error()))
			continue
		}
		if exists {
			res.Updated++
			e.logger.Debug("sync: updated", slog.String("path", doc.Path))
		} else {
			res.Added++
			e.logger.Debug("sync: added", slog.String("path", doc.Path))
		}
	}

	if removeStale {
		for path := range indexed {
			if _, ok := seen[path]; ok {
				continue
			}
			docId, idErr := e.db.IdForPath(path)
			if idErr != nil || docId == "" {
				continue
			}
			if delErr := e.db.DeleteDocument(docId); delErr != nil {
				res.Errors = append(res.Errors, SyncError{Path: path, Err: delErr.Error()})
				e.logger.Warn("sync: delete failed", slog.String("path", path), slog.String("error", delErr.Error()))
				continue
			}
			res.Removed++
			e.logger.Debug("sync: removed stale", slog.String("path", path))
		}
		if pruneErr := e.db.PruneOrphanDimensions(); pruneErr != nil {
			res.Errors = append(res.Errors, SyncError{Err: pruneErr.Error()})
		}
	}

	if curErr := e.db.SetSyncCursor(id, time.Now()); curErr != nil {
		res.Errors = append(res.Errors, SyncError{Err: curErr.Error()})
	}

	res.Duration = time.Since(start)
	e.logger.Info("sync: library done",
		slog.String("library", id),
		slog.Int("added", res.Added),
		slog.Int("updated", res.Updated),
		slog.Int("removed", res.Removed),
		slog.Int("errors", len(res.Errors)))
	return res
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// RowFromDocument flattens a scanned document into its index projection.
func RowFromDocument(libraryId string, d scanner.Document) index.DocumentRow {
	m := d.Metadata
	return index.DocumentRow{
		Id:           d.Id,
		LibraryId:    libraryId,
		Path:         d.Path,
		FileName:     d.FileName,
		FileSize:     d.FileSize,
		FileType:     d.FileType,
		Title:        m.Title,
		Author:       m.Author,
		Category:     m.Category,
		Tags:         m.Tags,
		Rating:       m.Rating,
		ReadStatus:   m.ReadStatus,
		Favorite:     m.Favorite,
		Source:       m.Source,
		Notes:        m.Notes,
		DateAdded:    m.DateAdded,
		DateModified: m.DateModified,
		CreatedAt:    d.CreatedAt,
		ModifiedAt:   d.ModifiedAt,
	}
}
