package filter

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/armoryx/internal/admin"
)

var (
	errUnknownField  = errors.New("unknown field")
	errUnknownLookup = errors.New("unknown lookup")
	errBadValue      = errors.New("invalid filter value")
)

type predicate func(ctx context.Context, r admin.Record) (bool, error)

var lookups = map[string]bool{
	"exact":     true,
	"iexact":    true,
	"icontains": true,
	"in":        true,
	"isnull":    true,
	"year":      true,
	"month":     true,
	"day":       true,
	"gt":        true,
	"gte":       true,
	"lt":        true,
	"lte":       true,
}

// path is a resolved filter key: a field and, for relations, at most one
// field on the related entity.
type path struct {
	field   *admin.Field
	related *admin.Field
}

// kind is the kind of the values the path yields.
func (p path) kind() admin.Kind {
	if p.related != nil {
		return p.related.Kind
	}
	if p.field.Kind.IsRelation() {
		// a bare relation compares on primary keys
		return admin.KindInteger
	}
	return p.field.Kind
}

func (p path) name() string {
	if p.related != nil {
		return p.field.Name + "__" + p.related.Name
	}
	return p.field.Name
}

// values returns every value the path reaches from r. A missing foreign key
// yields a single nil.
func (p path) values(ctx context.Context, r admin.Record) ([]any, error) {
	v, err := p.field.Value(ctx, r)
	if err != nil {
		return nil, err
	}
	if !p.field.Kind.IsRelation() {
		return []any{v}, nil
	}

	var targets []admin.Record
	switch rel := v.(type) {
	case nil:
		return []any{nil}, nil
	case admin.Record:
		targets = []admin.Record{rel}
	case []admin.Record:
		targets = rel
	default:
		return nil, fmt.Errorf("field %s: unexpected relation value %T", p.field.Name, v)
	}

	out := make([]any, 0, len(targets))
	for _, t := range targets {
		if p.related == nil {
			out = append(out, t.PK())
			continue
		}
		tv, err := p.related.Value(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, tv)
	}
	return out, nil
}

// resolve splits key into a path and a lookup name.
func resolve(e *admin.Entity, key string) (path, string, error) {
	parts := strings.Split(key, "__")
	lookup := "exact"
	if n := len(parts); n > 1 && lookups[parts[n-1]] {
		lookup = parts[n-1]
		parts = parts[:n-1]
	}

	f, ok := e.Field(parts[0])
	if !ok {
		return path{}, "", fmt.Errorf("%w: %s", errUnknownField, parts[0])
	}
	p := path{field: f}

	switch {
	case len(parts) == 1:
	case len(parts) == 2 && f.Kind.IsRelation() && f.Related != nil:
		rf, ok := f.Related.Field(parts[1])
		if !ok || rf.Kind.IsRelation() {
			return path{}, "", fmt.Errorf("%w: %s", errUnknownField, key)
		}
		p.related = rf
	case len(parts) == 2:
		return path{}, "", fmt.Errorf("%w: %s", errUnknownLookup, parts[1])
	default:
		return path{}, "", fmt.Errorf("%w: %s", errUnknownField, key)
	}
	return p, lookup, nil
}

// compile turns one filter parameter into a predicate. Errors mean the filter
// cannot be applied at all.
func (b *Builder) compile(e *admin.Entity, key, raw string) (predicate, error) {
	p, lookup, err := resolve(e, key)
	if err != nil {
		return nil, err
	}
	kind := p.kind()

	var match func(v any) bool
	switch lookup {
	case "exact":
		want, err := b.parse(kind, raw)
		if err != nil {
			return nil, err
		}
		match = func(v any) bool { return v != nil && compare(v, want) == 0 }

	case "iexact":
		match = func(v any) bool { return v != nil && strings.EqualFold(b.text(v), raw) }

	case "icontains":
		needle := strings.ToLower(raw)
		match = func(v any) bool { return v != nil && strings.Contains(strings.ToLower(b.text(v)), needle) }

	case "in":
		var set []any
		for _, item := range strings.Split(raw, ",") {
			want, err := b.parse(kind, strings.TrimSpace(item))
			if err != nil {
				return nil, err
			}
			set = append(set, want)
		}
		match = func(v any) bool {
			if v == nil {
				return false
			}
			for _, want := range set {
				if compare(v, want) == 0 {
					return true
				}
			}
			return false
		}

	case "isnull":
		want, err := parseBool(raw)
		if err != nil {
			return nil, err
		}
		match = func(v any) bool { return isNull(v) == want }

	case "gt", "gte", "lt", "lte":
		want, err := b.parse(kind, raw)
		if err != nil {
			return nil, err
		}
		match = func(v any) bool {
			if v == nil {
				return false
			}
			c := compare(v, want)
			switch lookup {
			case "gt":
				return c > 0
			case "gte":
				return c >= 0
			case "lt":
				return c < 0
			default:
				return c <= 0
			}
		}

	case "year", "month", "day":
		if kind != admin.KindDateTime && kind != admin.KindDate {
			return nil, fmt.Errorf("%w: %s on %s field %s", errUnknownLookup, lookup, kind, p.name())
		}
		want, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", errBadValue, raw)
		}
		match = func(v any) bool {
			t, ok := v.(time.Time)
			if !ok || t.IsZero() {
				return false
			}
			if kind == admin.KindDateTime {
				t = t.In(b.Location)
			}
			switch lookup {
			case "year":
				return t.Year() == want
			case "month":
				return int(t.Month()) == want
			default:
				return t.Day() == want
			}
		}
	}

	return func(ctx context.Context, r admin.Record) (bool, error) {
		values, err := p.values(ctx, r)
		if err != nil {
			return false, err
		}
		if len(values) == 0 {
			// an empty multi-valued relation behaves like null
			values = []any{nil}
		}
		for _, v := range values {
			if match(v) {
				return true, nil
			}
		}
		return false, nil
	}, nil
}

// parse converts a raw filter value to the representation of kind.
func (b *Builder) parse(kind admin.Kind, raw string) (any, error) {
	switch kind {
	case admin.KindInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", errBadValue, raw)
		}
		return n, nil
	case admin.KindBoolean:
		return parseBool(raw)
	case admin.KindDateTime, admin.KindDate:
		return b.parseTime(raw)
	default:
		return raw, nil
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func (b *Builder) parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, b.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a date", errBadValue, raw)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a boolean", errBadValue, raw)
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	if t, ok := v.(time.Time); ok {
		return t.IsZero()
	}
	return false
}

// text renders a value the way a database would cast it for text matching.
func (b *Builder) text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.In(b.Location).Format("2006-01-02 15:04:05")
	case admin.Record:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// compare orders two values of the same kind. Mismatched or unknown types
// compare by their text form. nil sorts first.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case int:
		if y, ok := b.(int); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case admin.Record:
		if y, ok := b.(admin.Record); ok {
			return cmp.Compare(x.PK(), y.PK())
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
