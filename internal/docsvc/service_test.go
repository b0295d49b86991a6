package docsvc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hverdal/arkiv/internal/apperr"
	"github.com/hverdal/arkiv/internal/index"
	"github.com/hverdal/arkiv/internal/sidecar"
	"github.com/hverdal/arkiv/internal/syncer"
	"github.com/hverdal/arkiv/internal/testutil"
)

func testEnv(t *testing.T) (string, *index.DB, *Service, *syncer.Engine) {
	t.Helper()
	db := testutil.TestDB(t)
	root, libs := testutil.TestLibrary(t, "lib1")
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return root, db, NewService(db, libs, logger, 0), syncer.New(db, libs, logger, 0)
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

func TestQuery_ColdStartFallsBackToScan(t *testing.T) {
	root, _, svc, _ := testEnv(t)
	write(t, root, "a.pdf", "x")
	write(t, root, "a.md", "---\ntitle: Alpha\ntags:\n  - ai\n---\n")
	write(t, root, "b.epub", "y")

	// No sync has run; the index is empty.
	rows, total, err := svc.Query(context.Background(), index.Filter{}, index.Sort{}, 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("total = %d, rows = %d, want 2/2", total, len(rows))
	}

	rows, total, err = svc.Query(context.Background(), index.Filter{Tags: []string{"ai"}}, index.Sort{}, 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || rows[0].Title != "Alpha" {
		t.Errorf("tag filter on fallback path: total = %d, rows = %+v", total, rows)
	}
}

func TestQuery_FallbackSortAndPagination(t *testing.T) {
	root, _, svc, _ := testEnv(t)
	write(t, root, "b.pdf", "x")
	write(t, root, "b.md", "---\ntitle: beta\n---\n")
	write(t, root, "a.pdf", "y")
	write(t, root, "a.md", "---\ntitle: Alpha\n---\n")
	write(t, root, "c.pdf", "z")
	write(t, root, "c.md", "---\ntitle: Gamma\n---\n")

	rows, total, err := svc.Query(context.Background(), index.Filter{}, index.Sort{Field: "title"}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	// Case-insensitive title order is Alpha, beta, Gamma; offset 1 limit 2.
	if len(rows) != 2 || rows[0].Title != "beta" || rows[1].Title != "Gamma" {
		t.Errorf("page = %+v", rows)
	}
}

func TestQuery_UsesIndexWhenPopulated(t *testing.T) {
	root, _, svc, eng := testEnv(t)
	write(t, root, "a.pdf", "x")
	_ = eng.SyncLibrary(context.Background(), "lib1")

	// A file added after the sync is invisible on the index path; that is
	// what distinguishes it from the fallback.
	write(t, root, "late.pdf", "y")

	_, total, err := svc.Query(context.Background(), index.Filter{}, index.Sort{}, 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1 (index path, not rescan)", total)
	}
}

func TestSearch_ColdStartRanksTitleFirst(t *testing.T) {
	root, _, svc, _ := testEnv(t)
	write(t, root, "one.pdf", "x")
	write(t, root, "one.md", "---\ntitle: Distributed Systems\n---\n")
	write(t, root, "two.pdf", "y")
	write(t, root, "two.md", "---\ntitle: Unrelated\nauthor: Distributed Press\n---\n")

	rows, err := svc.Search(context.Background(), "distributed", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("hits = %d, want 2", len(rows))
	}
	if rows[0].Title != "Distributed Systems" {
		t.Errorf("title match must rank before author match, got %q first", rows[0].Title)
	}
}

func TestWriteMetadata_CreatesSidecarAndIndexesSynchronously(t *testing.T) {
	root, db, svc, eng := testEnv(t)
	p := write(t, root, "paper.pdf", "%PDF")
	_ = eng.SyncLibrary(context.Background(), "lib1")

	detail, err := svc.WriteMetadata(context.Background(), p, sidecar.Metadata{
		Title: "My Paper",
		Tags:  []string{"ai"},
	}, "reading notes")
	if err != nil {
		t.Fatal(err)
	}
	if !detail.HasSidecar || detail.Metadata.Title != "My Paper" {
		t.Errorf("detail = %+v", detail)
	}

	// Sidecar exists on disk and decodes back.
	data, err := os.ReadFile(filepath.Join(root, "paper.md"))
	if err != nil {
		t.Fatal(err)
	}
	m, body := sidecar.Decode(data)
	if m.Title != "My Paper" || body != "reading notes" {
		t.Errorf("round trip: %+v %q", m, body)
	}
	if m.DateAdded.IsZero() || m.DateModified.IsZero() {
		t.Error("write must stamp date_added and date_modified")
	}

	// Read-after-write: the index sees the new values without a sync.
	rows, _ := db.Query(index.Filter{Tags: []string{"ai"}}, index.Sort{}, 10, 0)
	if len(rows) != 1 || rows[0].Title != "My Paper" {
		t.Errorf("index rows = %+v", rows)
	}
}

func TestWriteMetadata_PreservesDateAdded(t *testing.T) {
	root, _, svc, _ := testEnv(t)
	p := write(t, root, "a.pdf", "x")

	first, err := svc.WriteMetadata(context.Background(), p, sidecar.Metadata{Title: "v1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	second, err := svc.WriteMetadata(context.Background(), p, sidecar.Metadata{Title: "v2"}, "")
	if err != nil {
		t.Fatal(err)
	}
	// date_added is day precision in the sidecar, so compare dates.
	if second.Metadata.DateAdded.Format("2006-01-02") != first.Metadata.DateAdded.Format("2006-01-02") {
		t.Errorf("date_added changed: %v -> %v", first.Metadata.DateAdded, second.Metadata.DateAdded)
	}
	if second.Metadata.Title != "v2" {
		t.Errorf("title = %q", second.Metadata.Title)
	}
}

func TestWriteMetadata_Errors(t *testing.T) {
	root, _, svc, _ := testEnv(t)

	if _, err := svc.WriteMetadata(context.Background(), filepath.Join(root, "nope.pdf"), sidecar.Metadata{}, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing primary: err = %v, want ErrNotFound", err)
	}
	if _, err := svc.WriteMetadata(context.Background(), filepath.Join(root, "notes.md"), sidecar.Metadata{}, ""); err == nil {
		t.Error("sidecar path must be rejected")
	}
	outside := filepath.Join(t.TempDir(), "x.pdf")
	_ = os.WriteFile(outside, []byte("x"), 0o644)
	if _, err := svc.WriteMetadata(context.Background(), outside, sidecar.Metadata{}, ""); err == nil {
		t.Error("path outside every library must be rejected")
	}
	p := write(t, root, "ok.pdf", "x")
	if _, err := svc.WriteMetadata(context.Background(), p, sidecar.Metadata{Tags: []string{"ai"}}, ""); err == nil {
		t.Error("empty title must be rejected")
	}
}

func TestGetDocument_SynthesizesDefaults(t *testing.T) {
	root, _, svc, _ := testEnv(t)
	p := write(t, root, "orphan.pdf", "x")

	d, err := svc.GetDocument(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if d.HasSidecar {
		t.Error("no sidecar on disk")
	}
	if d.Metadata.Title != "orphan" || d.Metadata.ReadStatus != sidecar.StatusUnread {
		t.Errorf("defaults = %+v", d.Metadata)
	}
	if d.FileType != "pdf" || d.LibraryId != "lib1" {
		t.Errorf("detail = %+v", d)
	}
}

func TestGetDocument_ReadsSidecarLive(t *testing.T) {
	root, _, svc, _ := testEnv(t)
	p := write(t, root, "doc.pdf", "x")
	write(t, root, "doc.md", "---\ntitle: First\n---\n")

	d, err := svc.GetDocument(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if d.Metadata.Title != "First" {
		t.Errorf("title = %q", d.Metadata.Title)
	}

	// Edit the sidecar directly; the next read sees it without any sync.
	write(t, root, "doc.md", "---\ntitle: Second\n---\n")
	d, err = svc.GetDocument(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if d.Metadata.Title != "Second" {
		t.Errorf("title = %q, want live value", d.Metadata.Title)
	}

	if _, err := svc.GetDocument(context.Background(), filepath.Join(root, "gone.pdf")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
