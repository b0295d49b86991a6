package scanner

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hverdal/arkiv/internal/sidecar"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScan_PairsSidecars(t *testing.T) {
	root := t.TempDir()
	write(t, root, "paper.pdf", "%PDF")
	write(t, root, "paper.md", "---\ntitle: My Paper\ntags:\n  - ai\n---\ngreat read\n")
	write(t, root, "lonely.epub", "data")

	res, err := Scan(root, Options{Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("len(documents) = %d, want 2 (sidecar must not be a primary)", len(res.Documents))
	}
	if res.Stats.WithSidecar != 1 || res.Stats.Synthesized != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}

	byName := map[string]Document{}
	for _, d := range res.Documents {
		byName[d.FileName] = d
	}
	paper := byName["paper.pdf"]
	if paper.Metadata.Title != "My Paper" {
		t.Errorf("title = %q", paper.Metadata.Title)
	}
	if paper.Body != "great read\n" {
		t.Errorf("body = %q", paper.Body)
	}
	if paper.FileType != "pdf" {
		t.Errorf("file type = %q", paper.FileType)
	}

	lonely := byName["lonely.epub"]
	if lonely.Metadata.Title != "lonely" {
		t.Errorf("synthesized title = %q, want %q", lonely.Metadata.Title, "lonely")
	}
	if lonely.Metadata.ReadStatus != sidecar.StatusUnread {
		t.Errorf("read status = %q", lonely.Metadata.ReadStatus)
	}
}

func TestScan_GarbledSidecarIsNotAnError(t *testing.T) {
	root := t.TempDir()
	write(t, root, "doc.pdf", "x")
	write(t, root, "doc.md", "---\n: {{{ bad\n---\nbody\n")

	res, err := Scan(root, Options{Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Errorf("garbled sidecar must not be an error: %v", res.Errors)
	}
	if res.Documents[0].Metadata.Title != "doc" {
		t.Errorf("title = %q, want synthesized %q", res.Documents[0].Metadata.Title, "doc")
	}
}

func TestScan_SkipsHidden(t *testing.T) {
	root := t.TempDir()
	write(t, root, "visible.pdf", "x")
	write(t, root, ".hidden.pdf", "x")
	write(t, root, ".trash/gone.pdf", "x")

	res, err := Scan(root, Options{Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Documents) != 1 || res.Documents[0].FileName != "visible.pdf" {
		t.Errorf("documents = %+v", res.Documents)
	}
}

func TestScan_NonRecursive(t *testing.T) {
	root := t.TempDir()
	write(t, root, "top.pdf", "x")
	write(t, root, "sub/deep.pdf", "x")

	res, err := Scan(root, Options{Recursive: false})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Documents) != 1 || res.Documents[0].FileName != "top.pdf" {
		t.Errorf("documents = %+v", res.Documents)
	}
}

func TestScan_MaxDepth(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.pdf", "x")
	write(t, root, "l1/b.pdf", "x")
	write(t, root, "l1/l2/c.pdf", "x")

	res, err := Scan(root, Options{Recursive: true, MaxDepth: 1})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Documents) != 2 {
		t.Errorf("len = %d, want 2 (depth limit should exclude l1/l2)", len(res.Documents))
	}
}

func TestScan_Deterministic(t *testing.T) {
	root := t.TempDir()
	write(t, root, "b.pdf", "x")
	write(t, root, "a.pdf", "y")
	write(t, root, "a.md", "---\ntitle: A\n---\n")

	first, err := Scan(root, Options{Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	second, err := Scan(root, Options{Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !reflect.DeepEqual(first.Documents, second.Documents) {
		t.Error("scanning an unchanged tree twice must be identical")
	}
	if first.Documents[0].FileName != "a.pdf" {
		t.Errorf("documents must be path-sorted: %+v", first.Documents)
	}
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"), Options{})
	if err == nil {
		t.Error("expected error for missing root")
	}
}

func TestScan_SidecarEditBumpsModifiedAt(t *testing.T) {
	root := t.TempDir()
	write(t, root, "doc.pdf", "x")
	res, _ := Scan(root, Options{Recursive: true})
	before := res.Documents[0].ModifiedAt

	// Sidecar written after the primary: its newer mtime must win.
	write(t, root, "doc.md", "---\ntitle: Doc\n---\n")
	future := before.Add(2 * time.Second)
	_ = os.Chtimes(filepath.Join(root, "doc.md"), future, future)

	res, _ = Scan(root, Options{Recursive: true})
	if !res.Documents[0].ModifiedAt.After(before) {
		t.Error("sidecar edit should advance the effective modification time")
	}
}
