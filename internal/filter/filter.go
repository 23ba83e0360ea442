// Package filter narrows an entity's records the way the admin changelist
// does: free-text search, field filters, explicit selection and ordering.
package filter

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/armoryx/internal/admin"
)

// Query parameters that never name a field filter.
var reserved = map[string]bool{
	"q":                   true,
	"p":                   true,
	"page":                true,
	"o":                   true,
	"_changelist_filters": true,
	"columns[]":           true,
	"selected_ids[]":      true,
	"limit":               true,
	"offset":              true,
}

// IsReserved reports whether key is a control parameter rather than a filter.
func IsReserved(key string) bool {
	return reserved[key]
}

// Param is one field filter, e.g. {"state", "running"}.
type Param struct {
	Key   string
	Value string
}

// Query is the parsed changelist state of one request.
type Query struct {
	Search      string
	Filters     []Param
	SelectedIDs []string
	// Ordering is the admin "o" parameter: dot separated 1-based
	// list_display indexes, "-" prefixed for descending.
	Ordering string
}

// FromValues extracts a Query from request parameters. Each filter key keeps
// its last non-empty value. Filters are sorted by key so results do not
// depend on parameter order.
func FromValues(v url.Values) Query {
	q := Query{
		Search:      strings.TrimSpace(v.Get("q")),
		SelectedIDs: v["selected_ids[]"],
		Ordering:    v.Get("o"),
	}
	for key, values := range v {
		if IsReserved(key) || len(values) == 0 {
			continue
		}
		value := values[len(values)-1]
		if value == "" {
			continue
		}
		q.Filters = append(q.Filters, Param{Key: key, Value: value})
	}
	sort.Slice(q.Filters, func(i, j int) bool { return q.Filters[i].Key < q.Filters[j].Key })
	return q
}

// Builder applies queries to entity collections.
type Builder struct {
	// Location is used for date parts and naive date-time values.
	Location *time.Location
}

// New creates a Builder evaluating dates in loc. A nil loc means UTC.
func New(loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{Location: loc}
}

// Apply returns the records of e matching q, ordered. Only listing the base
// collection can fail; broken filters are skipped.
func (b *Builder) Apply(ctx context.Context, e *admin.Entity, a *admin.ModelAdmin, q Query) ([]admin.Record, error) {
	records, err := e.Objects.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", e.Key(), err)
	}

	if q.Search != "" && a != nil && len(a.SearchFields) > 0 {
		records = b.search(ctx, e, a.SearchFields, q.Search, records)
	}

	for _, p := range q.Filters {
		pred, err := b.compile(e, p.Key, p.Value)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).
				Str("entity", e.Key()).
				Str("filter", p.Key).
				Msg("skipping filter")
			continue
		}
		records = keep(ctx, records, pred)
	}

	if len(q.SelectedIDs) > 0 {
		records = selectIDs(records, q.SelectedIDs)
	}

	b.order(ctx, e, a, q.Ordering, records)
	return records, nil
}

// search keeps records where any search field contains term, case-insensitively.
func (b *Builder) search(ctx context.Context, e *admin.Entity, fields []string, term string, records []admin.Record) []admin.Record {
	var preds []predicate
	for _, name := range fields {
		pred, err := b.compile(e, name+"__icontains", term)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).
				Str("entity", e.Key()).
				Str("search_field", name).
				Msg("skipping search field")
			continue
		}
		preds = append(preds, pred)
	}
	if len(preds) == 0 {
		return records
	}

	return keep(ctx, records, func(ctx context.Context, r admin.Record) (bool, error) {
		for _, pred := range preds {
			ok, err := pred(ctx, r)
			if ok || err != nil {
				return true, err
			}
		}
		return false, nil
	})
}

// keep filters records in place. A predicate error counts as a match.
func keep(ctx context.Context, records []admin.Record, pred predicate) []admin.Record {
	out := records[:0]
	for _, r := range records {
		ok, err := pred(ctx, r)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Int64("pk", r.PK()).Msg("filter evaluation failed, keeping record")
			ok = true
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}

// selectIDs narrows records to the given primary keys. Identifiers that are
// not integers match nothing.
func selectIDs(records []admin.Record, ids []string) []admin.Record {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		pk, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			continue
		}
		want[pk] = true
	}

	out := records[:0]
	for _, r := range records {
		if want[r.PK()] {
			out = append(out, r)
		}
	}
	return out
}
