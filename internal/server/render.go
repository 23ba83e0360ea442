package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/export"
)

// MaxLimit caps the page size of list responses.
const MaxLimit = 500

// PaginatedResponse is the standard envelope for list responses.
type PaginatedResponse struct {
	Items   interface{}     `json:"items"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	Columns []export.Column `json:"columns,omitempty"`
	Meta    *AdminMeta      `json:"meta,omitempty"`
}

// AdminMeta describes how a changelist is meant to be presented.
type AdminMeta struct {
	ListDisplayLinks []string `json:"list_display_links,omitempty"`
	ListFilter       []string `json:"list_filter,omitempty"`
	SearchFields     []string `json:"search_fields,omitempty"`
	ReadonlyFields   []string `json:"readonly_fields,omitempty"`
	DateHierarchy    string   `json:"date_hierarchy,omitempty"`
	ListPerPage      int      `json:"list_per_page"`
}

func newAdminMeta(a *admin.ModelAdmin) *AdminMeta {
	return &AdminMeta{
		ListDisplayLinks: a.ListDisplayLinks,
		ListFilter:       a.ListFilter,
		SearchFields:     a.SearchFields,
		ReadonlyFields:   a.ReadonlyFields,
		DateHierarchy:    a.DateHierarchy,
		ListPerPage:      a.PerPage(),
	}
}

// EntitySummary is one entry of the API index.
type EntitySummary struct {
	Namespace         string     `json:"namespace"`
	Name              string     `json:"name"`
	VerboseName       string     `json:"verbose_name"`
	VerboseNamePlural string     `json:"verbose_name_plural"`
	URL               string     `json:"url"`
	Meta              *AdminMeta `json:"meta"`
}

// Render implements the render.Renderer interface.
func (resp *PaginatedResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// PaginationParams holds limit and offset.
type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination extracts limit and offset from the request. defaultLimit
// applies when no valid limit is given.
func ParsePagination(r *http.Request, defaultLimit int) PaginationParams {
	limit := defaultLimit
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil && val >= 0 {
			offset = val
		}
	}

	return PaginationParams{Limit: limit, Offset: offset}
}

// ErrorResponse represents a standard error.
type ErrorResponse struct {
	Err            error `json:"-"` // low-level runtime error
	HTTPStatusCode int   `json:"-"` // http response status code

	ErrorText string `json:"error"` // user-facing error message
}

// Render sets the response status.
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// ErrStatus builds an error response with an explicit message.
func ErrStatus(status int, err error, text string) render.Renderer {
	return &ErrorResponse{
		Err:            err,
		HTTPStatusCode: status,
		ErrorText:      text,
	}
}

// ErrInvalidRequest is a 400 carrying the error message.
func ErrInvalidRequest(err error) render.Renderer {
	return ErrStatus(http.StatusBadRequest, err, err.Error())
}

// ErrInternal is a 500 carrying the raw error message.
func ErrInternal(err error) render.Renderer {
	return ErrStatus(http.StatusInternalServerError, err, err.Error())
}

// ErrUnauthorized is a 401.
func ErrUnauthorized(err error) render.Renderer {
	return ErrStatus(http.StatusUnauthorized, err, "Unauthorized")
}

// ErrForbidden is a 403.
func ErrForbidden(err error) render.Renderer {
	return ErrStatus(http.StatusForbidden, err, "Permission denied")
}

func respondError(w http.ResponseWriter, r *http.Request, resp render.Renderer) {
	_ = render.Render(w, r, resp)
}

// paginate returns the window [offset, offset+limit) of items.
func paginate[T any](items []T, p PaginationParams) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}
