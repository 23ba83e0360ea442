package filter

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yairfalse/armoryx/internal/admin"
)

type orderKey struct {
	field *admin.Field
	desc  bool
}

// orderKeys builds the sort keys: the "o" columns first, then the entity's
// default ordering, then descending primary key as a tie breaker.
func orderKeys(ctx context.Context, e *admin.Entity, a *admin.ModelAdmin, o string) []orderKey {
	var keys []orderKey
	seen := make(map[string]bool)
	add := func(name string, desc bool) {
		f, ok := e.Field(name)
		if !ok || f.Kind == admin.KindMany || seen[f.Name] {
			return
		}
		seen[f.Name] = true
		keys = append(keys, orderKey{field: f, desc: desc})
	}

	if o != "" && a != nil {
		for _, part := range strings.Split(o, ".") {
			desc := strings.HasPrefix(part, "-")
			idx, err := strconv.Atoi(strings.TrimPrefix(part, "-"))
			if err != nil || idx < 1 || idx > len(a.ListDisplay) {
				zerolog.Ctx(ctx).Debug().Str("o", o).Msg("ignoring invalid ordering")
				continue
			}
			add(a.ListDisplay[idx-1], desc)
		}
	}
	for _, name := range e.Ordering {
		add(strings.TrimPrefix(name, "-"), strings.HasPrefix(name, "-"))
	}
	add("id", true)
	return keys
}

// order sorts records in place.
func (b *Builder) order(ctx context.Context, e *admin.Entity, a *admin.ModelAdmin, o string, records []admin.Record) {
	keys := orderKeys(ctx, e, a, o)
	if len(keys) == 0 || len(records) < 2 {
		return
	}

	// read every sort value once
	type row struct {
		rec    admin.Record
		values []any
	}
	rows := make([]row, len(records))
	for i, r := range records {
		vals := make([]any, len(keys))
		for n, k := range keys {
			if v, err := k.field.Value(ctx, r); err == nil {
				vals[n] = v
			}
		}
		rows[i] = row{rec: r, values: vals}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for n, k := range keys {
			c := compare(rows[i].values[n], rows[j].values[n])
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	for i := range rows {
		records[i] = rows[i].rec
	}
}
