package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/filter"
	"github.com/yairfalse/armoryx/telemetry"
)

// Recorder receives export measurements.
type Recorder interface {
	CellErrorRecorder
	RecordExport(ctx context.Context, entity, format string, rows int, d time.Duration)
}

// Options configures an Exporter.
type Options struct {
	// Location is the display time zone for date-times and date filters.
	Location        *time.Location
	CellErrorDetail bool
	// Spreadsheet enables xlsx output. When false, excel requests get CSV.
	Spreadsheet bool
	// Logger receives span start and end lines. Nil uses the context logger.
	Logger *telemetry.Logger
}

// Request describes one export.
type Request struct {
	Namespace string
	Entity    string
	Format    string
	// Allowed restricts the accepted formats. Empty means all formats.
	Allowed []Format
	Query   filter.Query
	Columns []string
}

// Result is a finished export.
type Result struct {
	ID       string
	Artifact *Artifact
	Columns  []Column
	Rows     int
}

// Exporter runs the lookup, query, projection and serialization pipeline.
type Exporter struct {
	registry    *admin.Registry
	builder     *filter.Builder
	projector   *Projector
	spreadsheet bool
	recorder    Recorder
	tracer      trace.Tracer
	logger      *telemetry.Logger
}

// NewExporter creates an Exporter. rec may be nil.
func NewExporter(reg *admin.Registry, opts Options, rec Recorder) *Exporter {
	p := NewProjector(opts.Location, opts.CellErrorDetail)
	if rec != nil {
		p.Recorder = rec
	}
	return &Exporter{
		registry:    reg,
		builder:     filter.New(opts.Location),
		projector:   p,
		spreadsheet: opts.Spreadsheet,
		recorder:    rec,
		tracer:      otel.Tracer("armoryx.export"),
		logger:      opts.Logger,
	}
}

// Projector returns the row projector used for exports.
func (x *Exporter) Projector() *Projector {
	return x.projector
}

// Builder returns the query builder used for exports.
func (x *Exporter) Builder() *filter.Builder {
	return x.builder
}

// Export resolves the entity, validates the format, then builds the artifact.
// Lookup errors wrap admin.ErrEntityNotFound or admin.ErrAdminNotFound; a bad
// format wraps ErrInvalidFormat.
func (x *Exporter) Export(ctx context.Context, req Request) (res *Result, err error) {
	id := uuid.NewString()
	start := time.Now()

	attrs := []attribute.KeyValue{
		attribute.String("export.id", id),
		attribute.String("export.entity", req.Namespace+"/"+req.Entity),
		attribute.String("export.format", req.Format),
	}
	ctx, span := x.tracer.Start(ctx, "export.run", trace.WithAttributes(attrs...))
	defer span.End()

	x.logger.LogSpanStart(ctx, "export.run", attrs...)
	defer func() { x.logger.LogSpanEnd(ctx, "export.run", err) }()

	logger := zerolog.Ctx(ctx).With().Str("export_id", id).Logger()
	ctx = logger.WithContext(ctx)

	e, a, err := x.registry.Lookup(req.Namespace, req.Entity)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	allowed := req.Allowed
	if len(allowed) == 0 {
		allowed = []Format{FormatJSON, FormatExcel, FormatCSV}
	}
	format, err := ParseFormat(req.Format, allowed...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	records, err := x.builder.Apply(ctx, e, a, req.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query %s: %w", e.Key(), err)
	}

	cols := ResolveColumns(ctx, e, a, req.Columns)
	rows := x.projector.Rows(ctx, e, a, records, cols)
	name := admin.T(ctx, e.VerboseNamePlural)

	art, err := x.encode(ctx, format, name, cols, rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	elapsed := time.Since(start)
	telemetry.RecordExportCompletedEvent(span, id, e.Key(), string(format), art.Filename, len(rows), len(cols))
	if x.recorder != nil {
		x.recorder.RecordExport(ctx, e.Key(), string(format), len(rows), elapsed)
	}
	logger.Info().
		Str("entity", e.Key()).
		Str("format", string(format)).
		Int("rows", len(rows)).
		Int("columns", len(cols)).
		Dur("duration", elapsed).
		Msg("export complete")

	return &Result{ID: id, Artifact: art, Columns: cols, Rows: len(rows)}, nil
}

func (x *Exporter) encode(ctx context.Context, format Format, name string, cols []Column, rows []Row) (*Artifact, error) {
	switch format {
	case FormatJSON:
		return EncodeJSON(name, cols, rows)
	case FormatCSV:
		return EncodeCSV(name, cols, rows)
	case FormatExcel:
		if !x.spreadsheet {
			return EncodeCSV(name, cols, rows)
		}
		art, err := EncodeExcel(name, cols, rows)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("spreadsheet export failed, falling back to csv")
			return EncodeCSV(name, cols, rows)
		}
		return art, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}
