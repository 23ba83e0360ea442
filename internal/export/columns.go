// Package export turns a filtered changelist into downloadable JSON,
// spreadsheet or CSV artifacts.
package export

import (
	"context"

	"github.com/yairfalse/armoryx/internal/admin"
)

// Column is one exported field and its display label.
type Column struct {
	Field string `json:"field"`
	Label string `json:"label"`
}

// ResolveColumns returns the columns to export. Without requested names it
// uses the admin's list_display. The changelist pseudo-columns are always
// dropped.
func ResolveColumns(ctx context.Context, e *admin.Entity, a *admin.ModelAdmin, requested []string) []Column {
	names := requested
	if len(names) == 0 && a != nil {
		names = a.ListDisplay
	}

	cols := make([]Column, 0, len(names))
	for _, name := range names {
		if name == admin.ActionCheckbox || name == admin.ActionButtons {
			continue
		}
		cols = append(cols, Column{Field: name, Label: admin.Label(ctx, e, a, name)})
	}
	return cols
}
