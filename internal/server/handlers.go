package server

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/detail"
	"github.com/yairfalse/armoryx/internal/export"
	"github.com/yairfalse/armoryx/internal/filter"
	"github.com/yairfalse/armoryx/pkg/inventory"
	"github.com/yairfalse/armoryx/storage"
	"github.com/yairfalse/armoryx/telemetry"
)

// webFormats are the formats offered by the export endpoint.
var webFormats = []export.Format{export.FormatJSON, export.FormatExcel}

var errMethodNotSupported = errors.New("operation not supported for this entity")

// lookupError maps registry lookup failures to a 404 with the bare sentinel
// message.
func lookupError(err error) render.Renderer {
	switch {
	case errors.Is(err, admin.ErrEntityNotFound):
		return ErrStatus(http.StatusNotFound, err, admin.ErrEntityNotFound.Error())
	case errors.Is(err, admin.ErrAdminNotFound):
		return ErrStatus(http.StatusNotFound, err, admin.ErrAdminNotFound.Error())
	default:
		return ErrInternal(err)
	}
}

// handleExport GET /export/{namespace}/{entity}/{format}
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	res, err := s.exporter.Export(r.Context(), export.Request{
		Namespace: chi.URLParam(r, "namespace"),
		Entity:    chi.URLParam(r, "entity"),
		Format:    chi.URLParam(r, "format"),
		Allowed:   webFormats,
		Query:     filter.FromValues(values),
		Columns:   values["columns[]"],
	})
	if err != nil {
		switch {
		case errors.Is(err, admin.ErrEntityNotFound), errors.Is(err, admin.ErrAdminNotFound):
			respondError(w, r, lookupError(err))
		case errors.Is(err, export.ErrInvalidFormat):
			respondError(w, r, ErrStatus(http.StatusBadRequest, err, export.ErrInvalidFormat.Error()))
		default:
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("export failed")
			respondError(w, r, ErrInternal(err))
		}
		return
	}

	art := res.Artifact
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Body)))
	w.Header().Set("X-Export-Id", res.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Body)
}

// handleDetail GET /admin/{namespace}/{entity}/{id}/view
func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	frag := s.detail.Render(r.Context(),
		chi.URLParam(r, "namespace"),
		chi.URLParam(r, "entity"),
		chi.URLParam(r, "id"))

	w.Header().Set("Content-Type", detail.ContentType)
	w.WriteHeader(frag.Status)
	_, _ = w.Write(frag.Body)
}

// changelistColumns are the primary key followed by list_display, including
// the action buttons.
func changelistColumns(r *http.Request, e *admin.Entity, a *admin.ModelAdmin) []export.Column {
	cols := []export.Column{{Field: "id", Label: admin.Label(r.Context(), e, a, "id")}}
	for _, name := range a.ListDisplay {
		if name == "id" || name == admin.ActionCheckbox {
			continue
		}
		cols = append(cols, export.Column{Field: name, Label: admin.Label(r.Context(), e, a, name)})
	}
	return cols
}

// handleList GET /api/v1/{namespace}/{entity}
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, a, err := s.registry.Lookup(chi.URLParam(r, "namespace"), chi.URLParam(r, "entity"))
	if err != nil {
		respondError(w, r, lookupError(err))
		return
	}
	if !a.HasViewPermission(ctx, nil) {
		respondError(w, r, ErrForbidden(nil))
		return
	}

	records, err := s.exporter.Builder().Apply(ctx, e, a, filter.FromValues(r.URL.Query()))
	if err != nil {
		respondError(w, r, ErrInternal(err))
		return
	}

	page := ParsePagination(r, a.PerPage())
	cols := changelistColumns(r, e, a)
	rows := s.exporter.Projector().Rows(ctx, e, a, paginate(records, page), cols)

	_ = render.Render(w, r, &PaginatedResponse{
		Items:   rows,
		Total:   int64(len(records)),
		Limit:   page.Limit,
		Offset:  page.Offset,
		Columns: cols,
		Meta:    newAdminMeta(a),
	})
}

// handleIndex GET /api/v1
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items := []EntitySummary{}
	for _, e := range s.registry.Entities() {
		_, a, err := s.registry.Lookup(e.Namespace, e.Name)
		if err != nil || !a.HasViewPermission(ctx, nil) {
			continue
		}
		items = append(items, EntitySummary{
			Namespace:         e.Namespace,
			Name:              e.Name,
			VerboseName:       admin.T(ctx, e.VerboseName),
			VerboseNamePlural: admin.T(ctx, e.VerboseNamePlural),
			URL:               "/api/v1/" + e.Namespace + "/" + e.Name,
			Meta:              newAdminMeta(a),
		})
	}
	render.JSON(w, r, items)
}

// handleCreate POST /api/v1/{namespace}/{entity}
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, a, err := s.registry.Lookup(chi.URLParam(r, "namespace"), chi.URLParam(r, "entity"))
	if err != nil {
		respondError(w, r, lookupError(err))
		return
	}
	creator, ok := e.Objects.(admin.Creator)
	if !ok {
		respondError(w, r, ErrStatus(http.StatusMethodNotAllowed, errMethodNotSupported, errMethodNotSupported.Error()))
		return
	}
	if !a.HasAddPermission(ctx) {
		respondError(w, r, ErrForbidden(nil))
		return
	}

	rec, err := creator.Create(ctx, r.Body)
	if err != nil {
		if errors.Is(err, inventory.ErrValidation) || errors.Is(err, storage.ErrDuplicate) {
			respondError(w, r, ErrInvalidRequest(err))
			return
		}
		zerolog.Ctx(ctx).Error().Err(err).Str("entity", e.Key()).Msg("create failed")
		respondError(w, r, ErrInternal(err))
		return
	}

	zerolog.Ctx(ctx).Info().
		Str("entity", e.Key()).
		Int64("id", rec.PK()).
		Msg("record created")

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rec)
}

// handleDelete DELETE /api/v1/{namespace}/{entity}/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "changelist.delete")
	defer span.End()

	e, a, err := s.registry.Lookup(chi.URLParam(r, "namespace"), chi.URLParam(r, "entity"))
	if err != nil {
		respondError(w, r, lookupError(err))
		return
	}
	deleter, ok := e.Objects.(admin.Deleter)
	if !ok {
		respondError(w, r, ErrStatus(http.StatusMethodNotAllowed, errMethodNotSupported, errMethodNotSupported.Error()))
		return
	}

	pk, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, r, ErrStatus(http.StatusNotFound, err, admin.ErrObjectNotFound.Error()))
		return
	}
	span.SetAttributes(
		attribute.String("entity", e.Key()),
		attribute.Int64("object.id", pk),
	)

	rec, err := e.Objects.Get(ctx, pk)
	if err != nil {
		if errors.Is(err, admin.ErrObjectNotFound) {
			respondError(w, r, ErrStatus(http.StatusNotFound, err, admin.ErrObjectNotFound.Error()))
			return
		}
		span.SetStatus(codes.Error, err.Error())
		respondError(w, r, ErrInternal(err))
		return
	}
	if !a.HasDeletePermission(ctx, rec) {
		p, _ := admin.PrincipalFrom(ctx)
		telemetry.RecordAccessDeniedEvent(span, p.Username, string(admin.ActionDelete), e.Key(), strconv.FormatInt(pk, 10))
		respondError(w, r, ErrForbidden(nil))
		return
	}

	if err := deleter.Delete(ctx, pk); err != nil {
		if errors.Is(err, admin.ErrObjectNotFound) {
			respondError(w, r, ErrStatus(http.StatusNotFound, err, admin.ErrObjectNotFound.Error()))
			return
		}
		span.SetStatus(codes.Error, err.Error())
		respondError(w, r, ErrInternal(fmt.Errorf("delete %s %d: %w", e.Key(), pk, err)))
		return
	}

	p, _ := admin.PrincipalFrom(ctx)
	telemetry.RecordRecordDeletedEvent(span, p.Username, e.Key(), pk)
	zerolog.Ctx(ctx).Info().
		Str("entity", e.Key()).
		Int64("id", pk).
		Str("record", rec.String()).
		Msg("record deleted")

	w.WriteHeader(http.StatusNoContent)
}
