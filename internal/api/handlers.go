package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hverdal/arkiv/internal/apperr"
	"github.com/hverdal/arkiv/internal/docsvc"
	"github.com/hverdal/arkiv/internal/index"
	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/syncer"
)

// Handler holds API route handlers.
type Handler struct {
	svc  *docsvc.Service
	eng  *syncer.Engine
	libs library.Store
}

// NewHandler creates a new Handler.
func NewHandler(svc *docsvc.Service, eng *syncer.Engine, libs library.Store) *Handler {
	return &Handler{svc: svc, eng: eng, libs: libs}
}

// parseFilter builds an index filter from list query parameters.
func parseFilter(q map[string][]string) index.Filter {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	f := index.Filter{
		LibraryId:  get("library"),
		Category:   get("category"),
		Author:     get("author"),
		ReadStatus: get("read_status"),
	}
	f.MinRating, _ = strconv.Atoi(get("min_rating"))
	if tags := get("tags"); tags != "" {
		f.Tags = splitCSV(tags)
	}
	if fts := get("file_types"); fts != "" {
		f.FileTypes = splitCSV(fts)
	}
	if fav := get("favorite"); fav != "" {
		b := fav == "true" || fav == "1"
		f.Favorite = &b
	}
	if v := get("added_after"); v != "" {
		f.AddedAfter = parseDate(v)
	}
	if v := get("added_before"); v != "" {
		f.AddedBefore = parseDate(v)
	}
	return f
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

// parseDate accepts RFC 3339 or plain dates.
func parseDate(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02", s)
	return t
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List documents with filtering, sorting, and pagination
//	@Tags			documents
//	@Produce		json
//	@Param			library			query		string	false	"Library id"
//	@Param			category		query		string	false	"Category name"
//	@Param			author			query		string	false	"Author name"
//	@Param			read_status		query		string	false	"Read status"	Enums(unread, reading, read)
//	@Param			min_rating		query		int		false	"Minimum rating"
//	@Param			tags			query		string	false	"Comma-separated tags (all must match)"
//	@Param			file_types		query		string	false	"Comma-separated file extensions"
//	@Param			favorite		query		bool	false	"Favorites only"
//	@Param			added_after		query		string	false	"Added on or after (YYYY-MM-DD)"
//	@Param			added_before	query		string	false	"Added on or before (YYYY-MM-DD)"
//	@Param			sort			query		string	false	"Sort field"	Enums(title, author, date_added, date_modified, file_name, file_size, rating)
//	@Param			order			query		string	false	"Sort order"	Enums(asc, desc)
//	@Param			limit			query		int		false	"Page size"
//	@Param			offset			query		int		false	"Page offset"
//	@Success		200				{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := parseFilter(q)
	srt := index.Sort{Field: q.Get("sort"), Descending: q.Get("order") == "desc"}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rows, total, err := h.svc.Query(r.Context(), f, srt, limit, offset)
	if err != nil {
		slog.Error("list documents failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{
		Documents: listItems(rows),
		Total:     total,
	})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across documents
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Param			offset	query		int		false	"Result offset"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	rows, err := h.svc.Search(r.Context(), q, limit, offset)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: listItems(rows)})
}

// GetMetadata handles GET /api/documents/meta.
//
//	@Summary		Get a document with its metadata, read live from disk
//	@Tags			documents
//	@Produce		json
//	@Param			path	query		string	true	"Absolute document path"
//	@Success		200		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/meta [get]
func (h *Handler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'path' is required"))
		return
	}
	detail, err := h.svc.GetDocument(r.Context(), path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get document failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, detailDTO(detail))
}

// PutMetadata handles PUT /api/documents/meta.
//
//	@Summary		Write a document's sidecar metadata
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		WriteMetadataRequest	true	"Metadata to write"
//	@Success		200		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/meta [put]
func (h *Handler) PutMetadata(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req WriteMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	detail, err := h.svc.WriteMetadata(r.Context(), req.Path, req.Metadata.toDomain(), req.Body)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("write metadata failed", slog.String("path", req.Path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, detailDTO(detail))
}

// Sync handles POST /api/sync.
//
//	@Summary		Run a full sync (adds, updates, and removal sweep)
//	@Tags			sync
//	@Produce		json
//	@Param			library	query		string	false	"Sync only this library"
//	@Success		200		{object}	syncer.Result
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, true)
}

// QuickSync handles POST /api/sync/quick.
//
//	@Summary		Run a quick sync (adds and updates only)
//	@Tags			sync
//	@Produce		json
//	@Param			library	query		string	false	"Sync only this library"
//	@Success		200		{object}	syncer.Result
//	@Security		BearerAuth
//	@Router			/sync/quick [post]
func (h *Handler) QuickSync(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, false)
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, full bool) {
	lib := r.URL.Query().Get("library")
	var res syncer.Result
	switch {
	case lib != "" && full:
		res = h.eng.SyncLibrary(r.Context(), lib)
	case lib != "":
		res = h.eng.QuickSyncLibrary(r.Context(), lib)
	case full:
		res = h.eng.SyncAll(r.Context())
	default:
		res = h.eng.QuickSync(r.Context())
	}
	writeJSON(w, http.StatusOK, res)
}

// ListLibraries handles GET /api/libraries.
//
//	@Summary		List configured libraries
//	@Tags			libraries
//	@Produce		json
//	@Success		200	{object}	LibraryListResponse
//	@Security		BearerAuth
//	@Router			/libraries [get]
func (h *Handler) ListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := h.libs.List()
	if err != nil {
		slog.Error("list libraries failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if libs == nil {
		libs = []library.Library{}
	}
	writeJSON(w, http.StatusOK, LibraryListResponse{Libraries: libs})
}
