// Package testutil provides shared test helpers for setting up library
// trees and index databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hverdal/arkiv/internal/index"
	"github.com/hverdal/arkiv/internal/library"
)

// TestDB creates a temporary SQLite index that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "arkiv-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestLibrary creates a temporary library root registered in a fresh
// file store under the given id.
func TestLibrary(t *testing.T, id string) (string, *library.FileStore) {
	t.Helper()
	root := t.TempDir()
	libs := library.NewFileStore(filepath.Join(t.TempDir(), "libraries.json"))
	if err := libs.Add(library.Library{Id: id, Name: id, RootPath: root}); err != nil {
		t.Fatal(err)
	}
	return root, libs
}

// WriteDoc drops a file into a library root.
func WriteDoc(t *testing.T, root, rel, content string) string {
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
