package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/hverdal/arkiv/internal/docsvc"
	"github.com/hverdal/arkiv/internal/index"
	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/sidecar"
)

// MetadataDTO is the JSON shape of sidecar metadata.
type MetadataDTO struct {
	Title        string            `json:"title" example:"Distributed Systems"`
	Author       string            `json:"author,omitempty" example:"M. van Steen"`
	Category     string            `json:"category,omitempty" example:"textbooks"`
	Source       string            `json:"source,omitempty" example:"https://example.com"`
	Notes        string            `json:"notes,omitempty"`
	Tags         []string          `json:"tags,omitempty" example:"systems,networking"`
	Rating       int               `json:"rating,omitempty" example:"4"`
	ReadStatus   string            `json:"read_status,omitempty" example:"reading"`
	Favorite     bool              `json:"favorite,omitempty"`
	DateAdded    time.Time         `json:"date_added,omitempty"`
	DateModified time.Time         `json:"date_modified,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// Validate enforces the metadata value constraints.
func (m MetadataDTO) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Rating, validation.Min(0), validation.Max(5)),
		validation.Field(&m.ReadStatus, validation.In("", sidecar.StatusUnread, sidecar.StatusReading, sidecar.StatusRead)),
	)
}

func (m MetadataDTO) toDomain() sidecar.Metadata {
	return sidecar.Metadata{
		Title:        m.Title,
		Author:       m.Author,
		Category:     m.Category,
		Source:       m.Source,
		Notes:        m.Notes,
		Tags:         m.Tags,
		Rating:       m.Rating,
		ReadStatus:   m.ReadStatus,
		Favorite:     m.Favorite,
		DateAdded:    m.DateAdded,
		DateModified: m.DateModified,
		Custom:       m.Custom,
	}
}

func metadataDTO(m sidecar.Metadata) MetadataDTO {
	return MetadataDTO{
		Title:        m.Title,
		Author:       m.Author,
		Category:     m.Category,
		Source:       m.Source,
		Notes:        m.Notes,
		Tags:         m.Tags,
		Rating:       m.Rating,
		ReadStatus:   m.ReadStatus,
		Favorite:     m.Favorite,
		DateAdded:    m.DateAdded,
		DateModified: m.DateModified,
		Custom:       m.Custom,
	}
}

// DocumentDetail is the full document response type.
type DocumentDetail struct {
	Id         string      `json:"id" example:"9c4f1a2b3d5e6f70"`
	LibraryId  string      `json:"library_id" example:"books"`
	Path       string      `json:"path" example:"/data/books/paper.pdf"`
	FileName   string      `json:"file_name" example:"paper.pdf"`
	FileSize   int64       `json:"file_size" example:"12345"`
	FileType   string      `json:"file_type" example:"pdf"`
	Metadata   MetadataDTO `json:"metadata"`
	Body       string      `json:"body,omitempty"`
	HasSidecar bool        `json:"has_sidecar"`
	ModifiedAt time.Time   `json:"modified_at"`
}

func detailDTO(d *docsvc.Detail) DocumentDetail {
	return DocumentDetail{
		Id:         d.Id,
		LibraryId:  d.LibraryId,
		Path:       d.Path,
		FileName:   d.FileName,
		FileSize:   d.FileSize,
		FileType:   d.FileType,
		Metadata:   metadataDTO(d.Metadata),
		Body:       d.Body,
		HasSidecar: d.HasSidecar,
		ModifiedAt: d.ModifiedAt,
	}
}

// DocumentListItem is a row in a list or search response.
type DocumentListItem struct {
	Id           string    `json:"id" example:"9c4f1a2b3d5e6f70"`
	LibraryId    string    `json:"library_id" example:"books"`
	Path         string    `json:"path" example:"/data/books/paper.pdf"`
	FileName     string    `json:"file_name" example:"paper.pdf"`
	FileSize     int64     `json:"file_size" example:"12345"`
	FileType     string    `json:"file_type" example:"pdf"`
	Title        string    `json:"title" example:"Distributed Systems"`
	Author       string    `json:"author,omitempty"`
	Category     string    `json:"category,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Rating       int       `json:"rating,omitempty"`
	ReadStatus   string    `json:"read_status"`
	Favorite     bool      `json:"favorite,omitempty"`
	Source       string    `json:"source,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	DateAdded    time.Time `json:"date_added,omitempty"`
	DateModified time.Time `json:"date_modified,omitempty"`
	ModifiedAt   time.Time `json:"modified_at"`
}

func listItems(rows []index.DocumentRow) []DocumentListItem {
	items := make([]DocumentListItem, len(rows))
	for i, r := range rows {
		items[i] = DocumentListItem{
			Id:           r.Id,
			LibraryId:    r.LibraryId,
			Path:         r.Path,
			FileName:     r.FileName,
			FileSize:     r.FileSize,
			FileType:     r.FileType,
			Title:        r.Title,
			Author:       r.Author,
			Category:     r.Category,
			Tags:         r.Tags,
			Rating:       r.Rating,
			ReadStatus:   r.ReadStatus,
			Favorite:     r.Favorite,
			Source:       r.Source,
			Notes:        r.Notes,
			DateAdded:    r.DateAdded,
			DateModified: r.DateModified,
			ModifiedAt:   r.ModifiedAt,
		}
	}
	return items
}

// DocumentListResponse wraps paginated document listings.
type DocumentListResponse struct {
	Documents []DocumentListItem `json:"documents" validate:"required"`
	Total     int                `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []DocumentListItem `json:"results" validate:"required"`
}

// WriteMetadataRequest is the request body for PUT /documents/meta.
type WriteMetadataRequest struct {
	Path     string      `json:"path" example:"/data/books/paper.pdf" validate:"required"`
	Metadata MetadataDTO `json:"metadata" validate:"required"`
	Body     string      `json:"body,omitempty"`
}

// Validate checks the request shape before it reaches the service.
// Title is required on writes: a blank title decodes as no usable
// metadata and would be replaced with defaults on the next read.
func (r WriteMetadataRequest) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&r.Metadata,
		validation.Field(&r.Metadata.Title, validation.Required),
	); err != nil {
		return err
	}
	return r.Metadata.Validate()
}

// LibraryListResponse wraps the configured libraries.
type LibraryListResponse struct {
	Libraries []library.Library `json:"libraries" validate:"required"`
}
