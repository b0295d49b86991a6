// Package watcher observes library roots for filesystem changes and
// triggers quick syncs. Events are debounced and coalesced per path, so
// editor write-then-rename bursts collapse into a single sync.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/sidecar"
	"github.com/hverdal/arkiv/internal/syncer"
)

// Event kinds.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
)

// Event is a debounced change notification. Path always names the
// primary file: sidecar events are translated to their companion, since
// the index is keyed by primary-file identity.
type Event struct {
	LibraryId string    `json:"library_id"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Syncer is the slice of the sync engine the watcher drives.
type Syncer interface {
	QuickSyncLibrary(ctx context.Context, id string) syncer.Result
}

type subscription struct {
	libraryId string
	handler   func(Event)
}

// Manager owns one underlying watch handle per library. Watching starts
// lazily when a library gains its first subscriber and stops when the
// last one unsubscribes; re-subscribing an already-watched library is a
// no-op.
type Manager struct {
	libs     library.Store
	engine   Syncer
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	nextId   int
	subs     map[int]subscription
	watchers map[string]context.CancelFunc
}

// NewManager creates a watcher manager. debounce bounds how long a burst
// of events is coalesced before triggering a sync; values <= 0 get a
// sensible default.
func NewManager(libs library.Store, engine Syncer, logger *slog.Logger, debounce time.Duration) *Manager {
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	return &Manager{
		libs:     libs,
		engine:   engine,
		logger:   logger,
		debounce: debounce,
		subs:     make(map[int]subscription),
		watchers: make(map[string]context.CancelFunc),
	}
}

// Subscribe registers a handler for a library's change events and
// returns a token for Unsubscribe. The library's watch handle is started
// if it is not already running.
func (m *Manager) Subscribe(libraryId string, handler func(Event)) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.watchers[libraryId]; !running {
		lib, err := m.libs.Get(libraryId)
		if err != nil {
			return 0, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		m.watchers[libraryId] = cancel
		go m.watch(ctx, lib.Id, lib.RootPath)
	}

	m.nextId++
	id := m.nextId
	m.subs[id] = subscription{libraryId: libraryId, handler: handler}
	return id, nil
}

// Unsubscribe removes a handler. When a library loses its last
// subscriber its watch handle is stopped.
func (m *Manager) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return
	}
	delete(m.subs, id)

	for _, s := range m.subs {
		if s.libraryId == sub.libraryId {
			return
		}
	}
	if cancel, running := m.watchers[sub.libraryId]; running {
		cancel()
		delete(m.watchers, sub.libraryId)
	}
}

// Close stops every watch handle and drops all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.watchers {
		cancel()
		delete(m.watchers, id)
	}
	m.subs = make(map[int]subscription)
}

func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	handlers := make([]func(Event), 0, len(m.subs))
	for _, s := range m.subs {
		if s.libraryId == ev.LibraryId {
			handlers = append(handlers, s.handler)
		}
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// watch runs the fsnotify loop for one library root until ctx is
// cancelled. Raw events accumulate in a pending map (latest kind wins
// per path, so memory is bounded by distinct paths); the debounce timer
// flushes the batch through a quick sync and then notifies subscribers.
func (m *Manager) watch(ctx context.Context, libraryId, root string) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Error("watcher: create failed", slog.String("library", libraryId), slog.String("error", err.Error()))
		return
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		m.logger.Error("watcher: add root failed", slog.String("root", root), slog.String("error", err.Error()))
		return
	}
	m.logger.Info("watcher: started", slog.String("library", libraryId), slog.String("root", root))

	pending := make(map[string]string) // primary path → latest kind
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	scheduleFlush := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(m.debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(m.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			m.logger.Info("watcher: stopped", slog.String("library", libraryId))
			return

		case <-flushCh:
			batch := pending
			pending = make(map[string]string)
			m.flush(ctx, libraryId, batch)

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}

			// New directories join the watch list immediately.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						m.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name), slog.String("error", addErr.Error()))
					}
					continue
				}
			}

			primary, kind := translate(ev)
			if primary == "" {
				continue
			}
			pending[primary] = kind
			scheduleFlush()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// flush runs a quick sync for the library and then publishes one event
// per coalesced path.
func (m *Manager) flush(ctx context.Context, libraryId string, batch map[string]string) {
	if len(batch) == 0 {
		return
	}
	res := m.engine.QuickSyncLibrary(ctx, libraryId)
	m.logger.Debug("watcher: quick sync",
		slog.String("library", libraryId),
		slog.Int("added", res.Added),
		slog.Int("updated", res.Updated),
		slog.Int("pending", len(batch)))

	now := time.Now()
	for path, kind := range batch {
		m.dispatch(Event{LibraryId: libraryId, Path: path, Kind: kind, Timestamp: now})
	}
}

// translate maps a raw fsnotify event to a primary-file path and event
// kind. Sidecar paths resolve to their companion primary; events for an
// orphan sidecar (no matching primary on disk) are dropped.
func translate(ev fsnotify.Event) (string, string) {
	path := ev.Name

	if sidecar.IsSidecar(path) {
		primary := resolvePrimary(path)
		if primary == "" {
			return "", ""
		}
		// Any sidecar change is an update of its primary document.
		if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
			return primary, KindUpdated
		}
		return "", ""
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		return path, KindCreated
	case ev.Op&fsnotify.Write != 0:
		return path, KindUpdated
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// fsnotify fires Rename on the old path; the new path arrives
		// as a separate Create if it stays inside a watched dir.
		return path, KindDeleted
	}
	return "", ""
}

// resolvePrimary finds the primary file a sidecar belongs to by probing
// sibling files with the same stem.
func resolvePrimary(sidecarPath string) string {
	stem := sidecar.PrimaryCandidate(sidecarPath)
	matches, err := filepath.Glob(stem + ".*")
	if err != nil {
		return ""
	}
	for _, match := range matches {
		if sidecar.IsSidecar(match) {
			continue
		}
		if info, statErr := os.Stat(match); statErr == nil && !info.IsDir() {
			return match
		}
	}
	return ""
}

// addDirsRecursive adds root and all its non-hidden subdirectories to
// the watch handle.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
