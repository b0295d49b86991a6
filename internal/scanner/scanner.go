// Package scanner walks library roots and materializes Document records
// by pairing primary files with their sidecar metadata.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hverdal/arkiv/internal/docid"
	"github.com/hverdal/arkiv/internal/sidecar"
)

// Document is the transient in-memory record for one primary file. It is
// rebuilt on every walk and never persisted as-is; only its normalized
// fields land in the index.
type Document struct {
	Id         string
	Path       string // normalized absolute path
	FileName   string
	FileSize   int64
	FileType   string // lowercased extension without the dot
	Metadata   sidecar.Metadata
	Body       string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Options controls a scan.
type Options struct {
	// Recursive descends into subdirectories. When false only the root
	// level is scanned.
	Recursive bool
	// MaxDepth bounds descent below the root (0 = unlimited). Acts as a
	// safety valve against symlink cycles and pathological nesting.
	MaxDepth int
}

// ScanError records a per-path failure that did not abort the walk.
type ScanError struct {
	Path string
	Err  error
}

// Stats summarizes one scan.
type Stats struct {
	TotalFiles  int
	WithSidecar int
	Synthesized int
	ErrorCount  int
}

// Result is the outcome of a scan: partial results plus an error list,
// never a hard failure for per-file problems.
type Result struct {
	Documents []Document
	Errors    []ScanError
	Stats     Stats
}

// Scan walks root and returns a Document for every primary file found.
//
// Hidden entries are skipped. Sidecar files are never primaries. A
// missing or unusable sidecar downgrades silently to synthesized default
// metadata; only an unreadable primary file lands in Errors. Documents
// are sorted by path, so scanning an unchanged tree twice yields
// identical results apart from filesystem-derived timestamps.
//
// Scan returns a non-nil error only when the root itself is unusable.
func Scan(root string, opts Options) (Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Result{}, fmt.Errorf("scanner: resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return Result{}, fmt.Errorf("scanner: stat root: %w", err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("scanner: root is not a directory: %s", absRoot)
	}

	var res Result
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			res.Errors = append(res.Errors, ScanError{Path: p, Err: walkErr})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == absRoot {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		depth := strings.Count(strings.TrimPrefix(p, absRoot), string(os.PathSeparator))
		if d.IsDir() {
			if !opts.Recursive {
				return filepath.SkipDir
			}
			if opts.MaxDepth > 0 && depth > opts.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if sidecar.IsSidecar(p) {
			return nil
		}

		doc, hadSidecar, scanErr := buildDocument(p, d)
		if scanErr != nil {
			res.Errors = append(res.Errors, ScanError{Path: p, Err: scanErr})
			return nil
		}
		if hadSidecar {
			res.Stats.WithSidecar++
		} else {
			res.Stats.Synthesized++
		}
		res.Documents = append(res.Documents, doc)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("scanner: walk: %w", err)
	}

	sort.Slice(res.Documents, func(i, j int) bool {
		return res.Documents[i].Path < res.Documents[j].Path
	})
	res.Stats.TotalFiles = len(res.Documents)
	res.Stats.ErrorCount = len(res.Errors)
	return res, nil
}

// buildDocument stats the primary file and reads its sidecar. Sidecar
// problems are not errors; an unreadable primary is. The bool reports
// whether a usable sidecar supplied the metadata.
func buildDocument(p string, d fs.DirEntry) (Document, bool, error) {
	info, err := d.Info()
	if err != nil {
		return Document{}, false, fmt.Errorf("scanner: stat %s: %w", p, err)
	}

	norm := docid.Normalize(p)
	doc := Document{
		Id:       docid.FromPath(p),
		Path:     norm,
		FileName: filepath.Base(p),
		FileSize: info.Size(),
		FileType: strings.ToLower(strings.TrimPrefix(filepath.Ext(p), ".")),
		// Birth time is not portably available; mtime stands in for both.
		CreatedAt:  info.ModTime(),
		ModifiedAt: info.ModTime(),
	}

	scPath := sidecar.PathFor(p)
	data, readErr := os.ReadFile(scPath)
	if readErr != nil {
		doc.Metadata = sidecar.Default(p)
		return doc, false, nil
	}

	m, body := sidecar.Decode(data)
	usable := m.Title != ""
	if !usable {
		// No usable metadata; fall back to defaults but keep the body.
		m = sidecar.Default(p)
	}
	doc.Metadata = m
	doc.Body = body

	// A sidecar edit must surface as a document change: the effective
	// modification time is the newer of primary and sidecar mtimes.
	if scInfo, statErr := os.Stat(scPath); statErr == nil {
		if scInfo.ModTime().After(doc.ModifiedAt) {
			doc.ModifiedAt = scInfo.ModTime()
		}
	}
	return doc, usable, nil
}
