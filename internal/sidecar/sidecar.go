// Package sidecar implements the metadata codec for companion files.
//
// A sidecar is a Markdown file paired with a primary file by path
// convention: the primary's extension is replaced with ".md". It carries
// a YAML front-matter block with typed metadata followed by a free-text
// body. The sidecar is the authoritative record of a document's metadata.
package sidecar

import (
	"bytes"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Extension is the sidecar file extension. Files with this extension are
// never treated as primary documents.
const Extension = ".md"

// ReadStatus values.
const (
	StatusUnread  = "unread"
	StatusReading = "reading"
	StatusRead    = "read"
)

// dateLayout is the front-matter date format. Dates are truncated to day
// precision on encode; finer precision is not round-tripped. This is a
// deliberate format limitation, not an error.
const dateLayout = "2006-01-02"

// Metadata is the typed front-matter of a sidecar file.
type Metadata struct {
	Title        string
	Author       string
	Category     string
	Source       string
	Notes        string
	Tags         []string
	Rating       int // 1-5, 0 = unset
	ReadStatus   string
	Favorite     bool
	DateAdded    time.Time
	DateModified time.Time
	Custom       map[string]string
}

// reservedKeys are the front-matter keys with typed fields. A custom
// field colliding with a reserved key loses: the typed field wins on
// encode and the custom entry is dropped.
var reservedKeys = map[string]struct{}{
	"title": {}, "author": {}, "category": {}, "source": {}, "notes": {},
	"tags": {}, "rating": {}, "read_status": {}, "favorite": {},
	"date_added": {}, "date_modified": {},
}

// PathFor returns the sidecar path for a primary file.
func PathFor(primaryPath string) string {
	ext := filepath.Ext(primaryPath)
	return strings.TrimSuffix(primaryPath, ext) + Extension
}

// IsSidecar reports whether path names a sidecar file.
func IsSidecar(path string) bool {
	return strings.EqualFold(filepath.Ext(path), Extension)
}

// PrimaryCandidate returns the primary path a sidecar would belong to,
// minus the extension. Callers resolve the actual primary by probing
// known extensions or consulting the index.
func PrimaryCandidate(sidecarPath string) string {
	return strings.TrimSuffix(sidecarPath, filepath.Ext(sidecarPath))
}

// Default returns the metadata synthesized for a primary file that has
// no sidecar: title is the file name without extension, status unread.
func Default(primaryPath string) Metadata {
	base := filepath.Base(primaryPath)
	return Metadata{
		Title:      strings.TrimSuffix(base, filepath.Ext(base)),
		ReadStatus: StatusUnread,
	}
}

// Decode parses raw sidecar content into metadata and body.
//
// The front-matter block sits between leading "---" delimiters. Known
// keys map to typed fields; unknown scalar keys are preserved in Custom.
// A missing or malformed block yields zero metadata (empty Title) with
// the whole text as body — callers must treat an empty title as "no
// usable metadata". Decode never fails.
func Decode(data []byte) (Metadata, string) {
	raw, body := splitFrontmatter(data)
	if raw == nil {
		return Metadata{ReadStatus: StatusUnread}, body
	}

	m := Metadata{ReadStatus: StatusUnread}
	for key, val := range raw {
		switch key {
		case "title":
			m.Title = asString(val)
		case "author":
			m.Author = asString(val)
		case "category":
			m.Category = asString(val)
		case "source":
			m.Source = asString(val)
		case "notes":
			m.Notes = asString(val)
		case "tags":
			m.Tags = asStringList(val)
		case "rating":
			if n, ok := asInt(val); ok && n >= 1 && n <= 5 {
				m.Rating = n
			}
		case "read_status":
			switch asString(val) {
			case StatusReading:
				m.ReadStatus = StatusReading
			case StatusRead:
				m.ReadStatus = StatusRead
			}
		case "favorite":
			if b, ok := val.(bool); ok {
				m.Favorite = b
			}
		case "date_added":
			m.DateAdded = asDate(val)
		case "date_modified":
			m.DateModified = asDate(val)
		default:
			if s, ok := scalarString(val); ok {
				if m.Custom == nil {
					m.Custom = make(map[string]string)
				}
				m.Custom[key] = s
			}
		}
	}
	return m, body
}

// Encode renders metadata and body back into sidecar content. Unset
// optional fields are omitted; custom fields that collide with reserved
// keys are dropped. Dates are emitted at day precision.
func Encode(m Metadata, body string) []byte {
	root := &yaml.Node{Kind: yaml.MappingNode}
	addStr := func(key, val string) {
		root.Content = append(root.Content,
			scalarNode(key), scalarNode(val))
	}

	addStr("title", m.Title)
	if m.Author != "" {
		addStr("author", m.Author)
	}
	if m.Category != "" {
		addStr("category", m.Category)
	}
	if len(m.Tags) > 0 {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, t := range m.Tags {
			seq.Content = append(seq.Content, scalarNode(t))
		}
		root.Content = append(root.Content, scalarNode("tags"), seq)
	}
	if m.Rating >= 1 && m.Rating <= 5 {
		n := &yaml.Node{}
		_ = n.Encode(m.Rating)
		root.Content = append(root.Content, scalarNode("rating"), n)
	}
	if m.ReadStatus != "" && m.ReadStatus != StatusUnread {
		addStr("read_status", m.ReadStatus)
	}
	if m.Favorite {
		n := &yaml.Node{}
		_ = n.Encode(true)
		root.Content = append(root.Content, scalarNode("favorite"), n)
	}
	if m.Source != "" {
		addStr("source", m.Source)
	}
	if m.Notes != "" {
		addStr("notes", m.Notes)
	}
	if !m.DateAdded.IsZero() {
		addStr("date_added", m.DateAdded.Format(dateLayout))
	}
	if !m.DateModified.IsZero() {
		addStr("date_modified", m.DateModified.Format(dateLayout))
	}
	for _, key := range sortedKeys(m.Custom) {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		addStr(key, m.Custom[key])
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	_ = enc.Encode(root)
	_ = enc.Close()
	buf.WriteString("---\n")
	if body != "" {
		buf.WriteString(body)
	}
	return buf.Bytes()
}

// splitFrontmatter separates the YAML block (between leading ---
// delimiters) from the body. Missing delimiters or invalid YAML yield a
// nil map and the whole content as body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}
	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

func scalarNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asStringList(v any) []string {
	switch list := v.(type) {
	case []any:
		var out []string
		for _, item := range list {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(list); s != "" {
			return []string{s}
		}
	}
	return nil
}

func asDate(v any) time.Time {
	switch d := v.(type) {
	case string:
		if t, err := time.Parse(dateLayout, d); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, d); err == nil {
			return t.UTC().Truncate(24 * time.Hour)
		}
	case time.Time:
		return d.UTC().Truncate(24 * time.Hour)
	}
	return time.Time{}
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		if s {
			return "true", true
		}
		return "false", true
	case int:
		return yamlScalar(s), true
	case float64:
		return yamlScalar(s), true
	}
	return "", false
}

func yamlScalar(v any) string {
	out, _ := yaml.Marshal(v)
	return strings.TrimRight(string(out), "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
