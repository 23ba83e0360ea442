package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/armoryx/internal/admin"
)

// Date and date-time output layouts.
const (
	DateTimeLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
)

// Mode selects the formatting rules of a projection.
type Mode int

const (
	// ModeExport keeps absent values as null and booleans as booleans.
	ModeExport Mode = iota
	// ModeDetail renders absent values as "-" and booleans as Yes/No.
	ModeDetail
)

// Row maps field names to formatted values: string, number, bool or nil.
type Row map[string]any

// CellErrorRecorder is told about every cell that failed to compute.
type CellErrorRecorder interface {
	RecordCellError(ctx context.Context, entity, field string)
}

// Projector formats records into rows.
type Projector struct {
	// Location is the display time zone for date-times.
	Location *time.Location
	// CellErrorDetail includes the failure message in cell error markers.
	CellErrorDetail bool

	Recorder CellErrorRecorder
}

// NewProjector creates a projector rendering date-times in loc.
func NewProjector(loc *time.Location, cellErrorDetail bool) *Projector {
	if loc == nil {
		loc = time.UTC
	}
	return &Projector{Location: loc, CellErrorDetail: cellErrorDetail}
}

// Row projects r onto cols. A failing cell is replaced by an error marker and
// never affects other cells.
func (p *Projector) Row(ctx context.Context, e *admin.Entity, a *admin.ModelAdmin, r admin.Record, cols []Column) Row {
	row := make(Row, len(cols))
	for _, c := range cols {
		row[c.Field] = p.Cell(ctx, e, a, r, c.Field, ModeExport)
	}
	return row
}

// Rows projects every record.
func (p *Projector) Rows(ctx context.Context, e *admin.Entity, a *admin.ModelAdmin, records []admin.Record, cols []Column) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, p.Row(ctx, e, a, r, cols))
	}
	return rows
}

// Cell computes one formatted value. Computed columns take precedence over
// entity fields; unknown names produce an empty string.
func (p *Projector) Cell(ctx context.Context, e *admin.Entity, a *admin.ModelAdmin, r admin.Record, name string, mode Mode) (out any) {
	defer func() {
		if rec := recover(); rec != nil {
			out = p.cellError(ctx, e, name, fmt.Errorf("%v", rec))
		}
	}()

	if a != nil {
		if c, ok := a.ComputedColumn(name); ok {
			v, err := c.Fn(ctx, r)
			if err != nil {
				return p.cellError(ctx, e, name, err)
			}
			return computedValue(v)
		}
	}
	if f, ok := e.Field(name); ok {
		v, err := p.FieldValue(ctx, f, r, mode)
		if err != nil {
			return p.cellError(ctx, e, name, err)
		}
		return v
	}
	return ""
}

func (p *Projector) cellError(ctx context.Context, e *admin.Entity, field string, err error) string {
	zerolog.Ctx(ctx).Warn().Err(err).
		Str("entity", e.Key()).
		Str("field", field).
		Msg("cell failed")
	if p.Recorder != nil {
		p.Recorder.RecordCellError(ctx, e.Key(), field)
	}
	if !p.CellErrorDetail {
		return "Error"
	}
	return "Error: " + err.Error()
}

// computedValue passes scalars through and stringifies everything else.
func computedValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x
	case admin.Record:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// errUnexpectedValue is returned when a field yields a value its kind cannot hold.
var errUnexpectedValue = errors.New("unexpected field value")

// FieldValue reads f from r with type-aware formatting.
func (p *Projector) FieldValue(ctx context.Context, f *admin.Field, r admin.Record, mode Mode) (any, error) {
	v, err := f.Value(ctx, r)
	if err != nil {
		return nil, err
	}
	if t, ok := v.(time.Time); ok && t.IsZero() {
		v = nil
	}
	if v == nil {
		if mode == ModeDetail {
			return "-", nil
		}
		return nil, nil
	}

	switch f.Kind {
	case admin.KindForeignKey:
		rec, ok := v.(admin.Record)
		if !ok {
			return nil, fmt.Errorf("%w: %s is %T", errUnexpectedValue, f.Name, v)
		}
		return rec.String(), nil

	case admin.KindMany:
		recs, ok := v.([]admin.Record)
		if !ok {
			return nil, fmt.Errorf("%w: %s is %T", errUnexpectedValue, f.Name, v)
		}
		names := make([]string, len(recs))
		for i, rec := range recs {
			names[i] = rec.String()
		}
		return strings.Join(names, ", "), nil

	case admin.KindDateTime:
		if t, ok := v.(time.Time); ok {
			return t.In(p.Location).Format(DateTimeLayout), nil
		}

	case admin.KindDate:
		if t, ok := v.(time.Time); ok {
			return t.Format(DateLayout), nil
		}

	case admin.KindChoice:
		if s, ok := v.(string); ok && mode == ModeDetail {
			return admin.T(ctx, f.ChoiceLabel(s)), nil
		}
	}

	if b, ok := v.(bool); ok && mode == ModeDetail {
		if b {
			return admin.T(ctx, "Yes"), nil
		}
		return admin.T(ctx, "No"), nil
	}
	return computedValue(v), nil
}
