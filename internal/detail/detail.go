// Package detail renders the read-only record view shown in the admin modal.
package detail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/export"
	"github.com/yairfalse/armoryx/telemetry"
)

//go:embed templates/*.html
var templates embed.FS

// ContentType of every fragment.
const ContentType = "text/html; charset=utf-8"

// PrimaryTemplate is the file name looked up in a template override directory.
const PrimaryTemplate = "detail.html"

// Recorder receives one measurement per rendered fragment.
type Recorder interface {
	RecordDetailView(ctx context.Context, entity string, status int)
}

// Options configures a Renderer.
type Options struct {
	// TemplateDir overrides the embedded primary template with
	// TemplateDir/detail.html when set.
	TemplateDir string
	Recorder    Recorder
	// Logger records span start and end. Nil uses the context logger.
	Logger *telemetry.Logger
}

// Fragment is an HTML response body and its status code.
type Fragment struct {
	Status int
	Body   []byte
}

// Row is one labeled value.
type Row struct {
	Name  string
	Label string
	Value any
}

// Section is a titled group of rows. The default section has no name.
type Section struct {
	Name string
	Rows []Row
}

// View is the data handed to the templates.
type View struct {
	Entity     string
	EntityName string
	ID         int64
	Title      string
	Sections   []Section
}

// Renderer produces detail fragments.
type Renderer struct {
	registry  *admin.Registry
	projector *export.Projector
	primary   *template.Template
	form      *template.Template
	recorder  Recorder
	logger    *telemetry.Logger
	tracer    trace.Tracer
}

// New creates a Renderer. It fails when the override template cannot be parsed.
func New(reg *admin.Registry, projector *export.Projector, opts Options) (*Renderer, error) {
	var (
		primary *template.Template
		err     error
	)
	if opts.TemplateDir != "" {
		primary, err = template.ParseFiles(filepath.Join(opts.TemplateDir, PrimaryTemplate))
	} else {
		primary, err = template.ParseFS(templates, "templates/"+PrimaryTemplate)
	}
	if err != nil {
		return nil, fmt.Errorf("parse detail template: %w", err)
	}

	form, err := template.ParseFS(templates, "templates/form.html")
	if err != nil {
		return nil, fmt.Errorf("parse form template: %w", err)
	}

	return &Renderer{
		registry:  reg,
		projector: projector,
		primary:   primary,
		form:      form,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		tracer:    otel.Tracer("armoryx.detail"),
	}, nil
}

// Render produces the fragment for one record. It never returns an error:
// failures become alert fragments with a matching status.
func (r *Renderer) Render(ctx context.Context, namespace, entity, id string) *Fragment {
	attrs := []attribute.KeyValue{
		attribute.String("detail.entity", namespace+"/"+entity),
		attribute.String("detail.id", id),
	}
	ctx, span := r.tracer.Start(ctx, "detail.render", trace.WithAttributes(attrs...))
	defer span.End()
	r.logger.LogSpanStart(ctx, "detail.render", attrs...)

	frag := r.render(ctx, namespace, entity, id)
	span.SetAttributes(attribute.Int("http.status_code", frag.Status))
	var err error
	if frag.Status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(frag.Status))
		err = fmt.Errorf("detail %s/%s %s: %s", namespace, entity, id, http.StatusText(frag.Status))
	}
	r.logger.LogSpanEnd(ctx, "detail.render", err)
	if r.recorder != nil {
		r.recorder.RecordDetailView(ctx, namespace+"/"+entity, frag.Status)
	}
	return frag
}

func (r *Renderer) render(ctx context.Context, namespace, entity, id string) *Fragment {
	logger := zerolog.Ctx(ctx)

	e, a, err := r.registry.Lookup(namespace, entity)
	switch {
	case errors.Is(err, admin.ErrEntityNotFound):
		return notFound(ctx, admin.ErrEntityNotFound.Error())
	case errors.Is(err, admin.ErrAdminNotFound):
		return notFound(ctx, admin.ErrAdminNotFound.Error())
	case err != nil:
		return serverError(ctx, err.Error())
	}

	deny := func(objectID string) *Fragment {
		var user string
		if p, ok := admin.PrincipalFrom(ctx); ok {
			user = p.Username
		}
		telemetry.RecordAccessDeniedEvent(trace.SpanFromContext(ctx), user, string(admin.ActionView), e.Key(), objectID)
		logger.Info().Str("entity", e.Key()).Str("user", user).Str("id", objectID).Msg("detail view denied")
		return forbidden(ctx)
	}

	if !a.HasViewPermission(ctx, nil) {
		return deny("")
	}

	pk, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return notFound(ctx, admin.ErrObjectNotFound.Error())
	}
	rec, err := e.Objects.Get(ctx, pk)
	switch {
	case errors.Is(err, admin.ErrObjectNotFound):
		return notFound(ctx, admin.ErrObjectNotFound.Error())
	case err != nil:
		logger.Error().Err(err).Str("entity", e.Key()).Int64("id", pk).Msg("load record")
		return serverError(ctx, err.Error())
	}

	if !a.HasViewPermission(ctx, rec) {
		return deny(id)
	}

	view := r.View(ctx, e, a, rec)

	var buf bytes.Buffer
	primaryErr := r.primary.Execute(&buf, view)
	if primaryErr == nil {
		return &Fragment{Status: http.StatusOK, Body: buf.Bytes()}
	}
	logger.Warn().Err(primaryErr).Str("entity", e.Key()).Msg("detail template failed, rendering form")

	buf.Reset()
	formErr := r.form.Execute(&buf, view)
	if formErr == nil {
		return &Fragment{Status: http.StatusOK, Body: buf.Bytes()}
	}
	logger.Error().Err(formErr).Str("entity", e.Key()).Msg("detail form failed")

	return diagnostic(ctx, primaryErr, formErr)
}

// View collects the labeled detail-mode values of rec.
func (r *Renderer) View(ctx context.Context, e *admin.Entity, a *admin.ModelAdmin, rec admin.Record) *View {
	view := &View{
		Entity:     e.Key(),
		EntityName: admin.T(ctx, e.VerboseName),
		ID:         rec.PK(),
		Title:      rec.String(),
	}

	row := func(name string) Row {
		return Row{
			Name:  name,
			Label: admin.Label(ctx, e, a, name),
			Value: r.projector.Cell(ctx, e, a, rec, name, export.ModeDetail),
		}
	}

	if len(a.Fieldsets) > 0 {
		for _, fs := range a.Fieldsets {
			section := Section{Name: admin.T(ctx, fs.Name)}
			for _, name := range fs.Fields {
				section.Rows = append(section.Rows, row(name))
			}
			view.Sections = append(view.Sections, section)
		}
		return view
	}

	// Concrete fields, then read-only extras such as computed columns.
	var section Section
	shown := make(map[string]bool)
	for _, f := range e.ConcreteFields() {
		section.Rows = append(section.Rows, row(f.Name))
		shown[f.Name] = true
	}
	for _, name := range a.ReadonlyFields {
		if !shown[name] {
			section.Rows = append(section.Rows, row(name))
			shown[name] = true
		}
	}
	view.Sections = []Section{section}
	return view
}
