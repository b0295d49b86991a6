// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Arkiv tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hverdal/arkiv/internal/docsvc"
	"github.com/hverdal/arkiv/internal/index"
	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/sidecar"
	"github.com/hverdal/arkiv/internal/syncer"
)

// Server wraps the MCP server with Arkiv tools.
type Server struct {
	mcp  *server.MCPServer
	svc  *docsvc.Service
	eng  *syncer.Engine
	libs library.Store
}

// New creates a new MCP server with all Arkiv tools registered.
func New(svc *docsvc.Service, eng *syncer.Engine, libs library.Store) *Server {
	s := &Server{svc: svc, eng: eng, libs: libs}

	s.mcp = server.NewMCPServer(
		"Arkiv",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Full-text search through document metadata and notes."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("limit", mcp.Description("Max results (default 20)")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("query_documents",
		mcp.WithDescription("List documents filtered by library, category, author, tags, "+
			"read status, rating, or favorite flag."),
		mcp.WithString("library", mcp.Description("Library id")),
		mcp.WithString("category", mcp.Description("Category name")),
		mcp.WithString("author", mcp.Description("Author name")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags; all must match")),
		mcp.WithString("read_status", mcp.Description("unread, reading, or read")),
		mcp.WithString("min_rating", mcp.Description("Minimum rating 1-5")),
		mcp.WithString("favorite", mcp.Description("true to list favorites only")),
		mcp.WithString("sort", mcp.Description("Sort field: title, author, date_added, date_modified, file_name, file_size, rating")),
		mcp.WithString("limit", mcp.Description("Max results (default 50)")),
	), s.queryDocuments)

	s.mcp.AddTool(mcp.NewTool("read_metadata",
		mcp.WithDescription("Read a document's metadata and notes, live from disk."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path to the primary file (not the sidecar)")),
	), s.readMetadata)

	s.mcp.AddTool(mcp.NewTool("write_metadata",
		mcp.WithDescription("Write a document's sidecar metadata. The sidecar MUST follow "+
			"the canonical format; read it first via the get_sidecar_contract tool or the "+
			"arkiv://sidecar-format resource. The index is updated in the same call."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path to the primary file")),
		mcp.WithString("title", mcp.Description("Document title")),
		mcp.WithString("author", mcp.Description("Author name")),
		mcp.WithString("category", mcp.Description("Category name")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("rating", mcp.Description("Rating 1-5")),
		mcp.WithString("read_status", mcp.Description("unread, reading, or read")),
		mcp.WithString("favorite", mcp.Description("true or false")),
		mcp.WithString("source", mcp.Description("Origin URL or reference")),
		mcp.WithString("notes", mcp.Description("Short notes field")),
		mcp.WithString("body", mcp.Description("Free-text body below the front matter")),
	), s.writeMetadata)

	s.mcp.AddTool(mcp.NewTool("get_sidecar_contract",
		mcp.WithDescription("Returns the canonical Arkiv sidecar format contract. "+
			"Call this before writing metadata to ensure correct structure."),
	), s.getSidecarContract)

	s.mcp.AddTool(mcp.NewTool("sync_library",
		mcp.WithDescription("Reconcile a library (or all libraries) against the index. "+
			"A full sync also removes rows for vanished files."),
		mcp.WithString("library", mcp.Description("Library id (empty for all)")),
		mcp.WithString("quick", mcp.Description("true to skip the removal sweep")),
	), s.syncLibrary)

	s.mcp.AddTool(mcp.NewTool("list_libraries",
		mcp.WithDescription("List the configured library roots."),
	), s.listLibraries)

	// Resource: sidecar format contract.
	s.mcp.AddResource(
		mcp.NewResource("arkiv://sidecar-format", "Sidecar Format Contract",
			mcp.WithResourceDescription("Canonical sidecar metadata format for Arkiv documents."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSidecarFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := atoiDefault(req.GetString("limit", ""), 20)

	rows, err := s.svc.Search(ctx, query, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) queryDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := index.Filter{
		LibraryId:  req.GetString("library", ""),
		Category:   req.GetString("category", ""),
		Author:     req.GetString("author", ""),
		ReadStatus: req.GetString("read_status", ""),
		MinRating:  atoiDefault(req.GetString("min_rating", ""), 0),
	}
	if tags := req.GetString("tags", ""); tags != "" {
		f.Tags = splitCSV(tags)
	}
	if fav := req.GetString("favorite", ""); fav == "true" {
		b := true
		f.Favorite = &b
	}
	srt := index.Sort{Field: req.GetString("sort", "")}
	limit := atoiDefault(req.GetString("limit", ""), 50)

	rows, total, err := s.svc.Query(ctx, f, srt, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{
		"documents": rows,
		"total":     total,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.GetDocument(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	out, _ := json.MarshalIndent(detail, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) writeMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Start from the current sidecar so partial writes do not wipe the
	// fields or the body the caller left out.
	m := sidecar.Metadata{}
	existingBody := ""
	if existing, getErr := s.svc.GetDocument(ctx, path); getErr == nil {
		m = existing.Metadata
		existingBody = existing.Body
	}
	body := req.GetString("body", existingBody)

	if v := req.GetString("title", ""); v != "" {
		m.Title = v
	}
	if v := req.GetString("author", ""); v != "" {
		m.Author = v
	}
	if v := req.GetString("category", ""); v != "" {
		m.Category = v
	}
	if v := req.GetString("tags", ""); v != "" {
		m.Tags = splitCSV(v)
	}
	if v := req.GetString("rating", ""); v != "" {
		r, convErr := strconv.Atoi(v)
		if convErr != nil || r < 1 || r > 5 {
			return mcp.NewToolResultError("rating must be an integer from 1 to 5"), nil
		}
		m.Rating = r
	}
	if v := req.GetString("read_status", ""); v != "" {
		switch v {
		case sidecar.StatusUnread, sidecar.StatusReading, sidecar.StatusRead:
			m.ReadStatus = v
		default:
			return mcp.NewToolResultError("read_status must be unread, reading, or read"), nil
		}
	}
	if v := req.GetString("favorite", ""); v != "" {
		m.Favorite = v == "true"
	}
	if v := req.GetString("source", ""); v != "" {
		m.Source = v
	}
	if v := req.GetString("notes", ""); v != "" {
		m.Notes = v
	}

	detail, err := s.svc.WriteMetadata(ctx, path, m, body)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("written: %s", sidecar.PathFor(detail.Path))), nil
}

func (s *Server) getSidecarContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SidecarFormatContract), nil
}

func (s *Server) readSidecarFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "arkiv://sidecar-format",
			MIMEType: "text/markdown",
			Text:     SidecarFormatContract,
		},
	}, nil
}

func (s *Server) syncLibrary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lib := req.GetString("library", "")
	quick := req.GetString("quick", "") == "true"

	var res syncer.Result
	switch {
	case lib != "" && quick:
		res = s.eng.QuickSyncLibrary(ctx, lib)
	case lib != "":
		res = s.eng.SyncLibrary(ctx, lib)
	case quick:
		res = s.eng.QuickSync(ctx)
	default:
		res = s.eng.SyncAll(ctx)
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listLibraries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	libs, err := s.libs.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(libs) == 0 {
		return mcp.NewToolResultText("no libraries configured"), nil
	}
	var b strings.Builder
	for _, lib := range libs {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", lib.Id, lib.Name, lib.RootPath)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
