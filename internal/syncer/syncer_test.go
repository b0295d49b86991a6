package syncer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hverdal/arkiv/internal/index"
	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/testutil"
)

func testEnv(t *testing.T) (string, *index.DB, *Engine) {
	t.Helper()
	db := testutil.TestDB(t)
	root, libs := testutil.TestLibrary(t, "lib1")
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return root, db, New(db, libs, logger, 0)
}

func write(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// touch pushes a file's mtime into the future so a rescan sees it as
// strictly newer than the indexed copy.
func touch(t *testing.T, p string, offset time.Duration) {
	t.Helper()
	future := time.Now().Add(offset)
	if err := os.Chtimes(p, future, future); err != nil {
		t.Fatal(err)
	}
}

func TestSyncLibrary_AddsNewDocuments(t *testing.T) {
	root, db, eng := testEnv(t)
	write(t, root, "a.pdf", "x")
	write(t, root, "b.epub", "y")

	res := eng.SyncLibrary(context.Background(), "lib1")
	if res.Added != 2 || res.Updated != 0 || res.Removed != 0 {
		t.Errorf("result = %+v, want 2 adds", res)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v", res.Errors)
	}
	n, _ := db.CountAll()
	if n != 2 {
		t.Errorf("indexed = %d, want 2", n)
	}
}

func TestSyncLibrary_SkipsUnchanged(t *testing.T) {
	root, _, eng := testEnv(t)
	write(t, root, "a.pdf", "x")

	_ = eng.SyncLibrary(context.Background(), "lib1")
	res := eng.SyncLibrary(context.Background(), "lib1")
	if res.Added != 0 || res.Updated != 0 {
		t.Errorf("unchanged tree should be a no-op, got %+v", res)
	}
}

func TestSyncLibrary_DetectsSidecarEdit(t *testing.T) {
	root, db, eng := testEnv(t)
	write(t, root, "a.pdf", "x")
	_ = eng.SyncLibrary(context.Background(), "lib1")

	sc := write(t, root, "a.md", "---\ntitle: Renamed\n---\n")
	touch(t, sc, 5*time.Second)

	res := eng.SyncLibrary(context.Background(), "lib1")
	if res.Updated != 1 || res.Added != 0 {
		t.Errorf("result = %+v, want 1 update", res)
	}
	docs, _ := db.Query(index.Filter{}, index.Sort{}, 10, 0)
	if docs[0].Title != "Renamed" {
		t.Errorf("title = %q", docs[0].Title)
	}
}

func TestSyncLibrary_RemovesVanishedAndPrunes(t *testing.T) {
	root, db, eng := testEnv(t)
	p := write(t, root, "a.pdf", "x")
	write(t, root, "a.md", "---\ntitle: A\nauthor: Sole Author\ntags:\n  - only\n---\n")
	write(t, root, "b.pdf", "y")
	_ = eng.SyncLibrary(context.Background(), "lib1")

	_ = os.Remove(p)
	_ = os.Remove(filepath.Join(root, "a.md"))

	res := eng.SyncLibrary(context.Background(), "lib1")
	if res.Removed != 1 {
		t.Errorf("result = %+v, want 1 removal", res)
	}
	n, _ := db.CountAll()
	if n != 1 {
		t.Errorf("indexed = %d, want 1", n)
	}
	// The sole referencer is gone, so its dims must be pruned.
	if docs, _ := db.Query(index.Filter{Author: "Sole Author"}, index.Sort{}, 10, 0); len(docs) != 0 {
		t.Error("orphan author still resolvable")
	}
	if docs, _ := db.Query(index.Filter{Tags: []string{"only"}}, index.Sort{}, 10, 0); len(docs) != 0 {
		t.Error("orphan tag still resolvable")
	}
}

func TestQuickSync_SkipsRemovalSweep(t *testing.T) {
	root, db, eng := testEnv(t)
	p := write(t, root, "a.pdf", "x")
	_ = eng.SyncLibrary(context.Background(), "lib1")

	_ = os.Remove(p)
	write(t, root, "new.pdf", "y")

	res := eng.QuickSync(context.Background())
	if res.Added != 1 || res.Removed != 0 {
		t.Errorf("result = %+v, want 1 add and no removals", res)
	}
	n, _ := db.CountAll()
	if n != 2 {
		t.Errorf("indexed = %d, want 2 (stale row kept by quick sync)", n)
	}
}

func TestQuickSync_Monotonic(t *testing.T) {
	root, _, eng := testEnv(t)
	write(t, root, "a.pdf", "x")

	_ = eng.QuickSync(context.Background())
	res := eng.QuickSync(context.Background())
	if res.Added != 0 || res.Updated != 0 {
		t.Errorf("second quick sync with no changes must be zero, got %+v", res)
	}
}

func TestSyncLibrary_UnreadableRoot(t *testing.T) {
	_, _, eng := testEnv(t)

	libs := library.NewFileStore(filepath.Join(t.TempDir(), "libraries.json"))
	_ = libs.Add(library.Library{Id: "bad", RootPath: "/does/not/exist"})
	eng.libs = libs

	res := eng.SyncLibrary(context.Background(), "bad")
	if res.Added != 0 || res.Updated != 0 || res.Removed != 0 {
		t.Errorf("total failure must report zero counts: %+v", res)
	}
	if len(res.Errors) == 0 {
		t.Error("total failure must carry a run-level error")
	}
}

func TestSyncLibrary_RecordsCursor(t *testing.T) {
	root, db, eng := testEnv(t)
	write(t, root, "a.pdf", "x")

	before := time.Now()
	_ = eng.SyncLibrary(context.Background(), "lib1")
	cur, _ := db.GetSyncCursor("lib1")
	if cur.Before(before.Add(-time.Second)) {
		t.Errorf("cursor = %v, want >= %v", cur, before)
	}
}

// The end-to-end scenario: an orphan primary gets defaults, a metadata
// write surfaces as an update, and tag filters see the new tags.
func TestScenario_MetadataWriteThenSync(t *testing.T) {
	root, db, eng := testEnv(t)
	write(t, root, "paper.pdf", "%PDF")

	res := eng.SyncLibrary(context.Background(), "lib1")
	if res.Added != 1 {
		t.Fatalf("result = %+v", res)
	}
	docs, _ := db.Query(index.Filter{}, index.Sort{}, 10, 0)
	if docs[0].Title != "paper" || docs[0].ReadStatus != "unread" || len(docs[0].Tags) != 0 {
		t.Errorf("defaults not synthesized: %+v", docs[0])
	}

	sc := write(t, root, "paper.md", "---\ntitle: My Paper\ntags:\n  - ai\n  - \"2024\"\n---\n")
	touch(t, sc, 5*time.Second)

	res = eng.SyncLibrary(context.Background(), "lib1")
	if res.Updated != 1 {
		t.Fatalf("result = %+v, want updated:1", res)
	}
	if docs, _ := db.Query(index.Filter{Tags: []string{"ai"}}, index.Sort{}, 10, 0); len(docs) != 1 {
		t.Error("tag ai should match")
	}
	if docs, _ := db.Query(index.Filter{Tags: []string{"ml"}}, index.Sort{}, 10, 0); len(docs) != 0 {
		t.Error("tag ml should not match")
	}
}

// SyncAll runs libraries in parallel, so two libraries introducing the
// same new author must both land without a unique-constraint failure.
func TestSyncAll_SharedDimensionAcrossLibraries(t *testing.T) {
	db := testutil.TestDB(t)
	libs := library.NewFileStore(filepath.Join(t.TempDir(), "libraries.json"))
	rootA, rootB := t.TempDir(), t.TempDir()
	for id, root := range map[string]string{"lib1": rootA, "lib2": rootB} {
		if err := libs.Add(library.Library{Id: id, Name: id, RootPath: root}); err != nil {
			t.Fatal(err)
		}
	}
	write(t, rootA, "a.pdf", "x")
	write(t, rootA, "a.md", "---\ntitle: A\nauthor: Shared Author\n---\n")
	write(t, rootB, "b.pdf", "y")
	write(t, rootB, "b.md", "---\ntitle: B\nauthor: Shared Author\n---\n")

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := New(db, libs, logger, 0)

	res := eng.SyncAll(context.Background())
	if res.Added != 2 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	rows, err := db.Query(index.Filter{Author: "shared author"}, index.Sort{}, 10, 0)
	if err != nil || len(rows) != 2 {
		t.Errorf("author rows = %+v, err = %v", rows, err)
	}
}
