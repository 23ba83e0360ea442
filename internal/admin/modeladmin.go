package admin

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/rs/zerolog/log"
)

// Pseudo-columns that only make sense in the interactive changelist.
const (
	ActionCheckbox = "action_checkbox"
	ActionButtons  = "action_buttons"
)

// DefaultListPerPage is the changelist page size when none is configured.
const DefaultListPerPage = 50

// Computed is a derived display column.
type Computed struct {
	Name             string
	ShortDescription string
	Fn               ValueFunc
}

// Fieldset groups fields on the detail view.
type Fieldset struct {
	Name   string
	Fields []string
}

// ModelAdmin is the admin configuration for one entity.
type ModelAdmin struct {
	ListDisplay      []string
	ListDisplayLinks []string
	ListFilter       []string
	SearchFields     []string
	ReadonlyFields   []string
	Fieldsets        []Fieldset
	ListPerPage      int
	DateHierarchy    string

	Computed map[string]*Computed

	Authorizer Authorizer

	entity *Entity
}

// ComputedColumn returns the computed column called name.
func (a *ModelAdmin) ComputedColumn(name string) (*Computed, bool) {
	c, ok := a.Computed[name]
	return c, ok
}

// PerPage returns the changelist page size.
func (a *ModelAdmin) PerPage() int {
	if a.ListPerPage > 0 {
		return a.ListPerPage
	}
	return DefaultListPerPage
}

// AddComputed registers a computed column.
func (a *ModelAdmin) AddComputed(c *Computed) {
	if a.Computed == nil {
		a.Computed = make(map[string]*Computed)
	}
	a.Computed[c.Name] = c
}

// HasViewPermission reports whether the caller in ctx may view r. Change
// permission implies view permission.
func (a *ModelAdmin) HasViewPermission(ctx context.Context, r Record) bool {
	return a.allowed(ctx, ActionView, r) || a.allowed(ctx, ActionChange, r)
}

// HasChangePermission reports whether the caller in ctx may change r.
func (a *ModelAdmin) HasChangePermission(ctx context.Context, r Record) bool {
	return a.allowed(ctx, ActionChange, r)
}

// HasDeletePermission reports whether the caller in ctx may delete r.
func (a *ModelAdmin) HasDeletePermission(ctx context.Context, r Record) bool {
	return a.allowed(ctx, ActionDelete, r)
}

// HasAddPermission reports whether the caller in ctx may create records.
func (a *ModelAdmin) HasAddPermission(ctx context.Context) bool {
	return a.allowed(ctx, ActionAdd, nil)
}

func (a *ModelAdmin) allowed(ctx context.Context, action Action, r Record) bool {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return false
	}
	// Without an authorizer only superusers get through.
	if a.Authorizer == nil {
		return p.IsSuperuser
	}

	req := AccessRequest{
		Principal: p,
		Action:    action,
		Namespace: a.entity.Namespace,
		Entity:    a.entity.Name,
	}
	if r != nil {
		pk := r.PK()
		req.ObjectID = &pk
	}

	ok, err := a.Authorizer.Allowed(ctx, req)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("entity", a.entity.Key()).
			Str("action", string(action)).
			Str("user", p.Username).
			Msg("authorization failed, denying")
		return false
	}
	return ok
}

// DetailURL is the read-only modal URL of a record.
func DetailURL(e *Entity, pk int64) string {
	return fmt.Sprintf("/admin/%s/%s/%d/view/", e.Namespace, e.Name, pk)
}

func changeURL(e *Entity, pk int64) string {
	return fmt.Sprintf("/admin/%s/%s/%d/change/", e.Namespace, e.Name, pk)
}

func deleteURL(e *Entity, pk int64) string {
	return fmt.Sprintf("/admin/%s/%s/%d/delete/", e.Namespace, e.Name, pk)
}

// actionButtons renders the View/Edit/Delete links the caller may use, or "-".
func (a *ModelAdmin) actionButtons(ctx context.Context, r Record) (any, error) {
	if _, ok := PrincipalFrom(ctx); !ok {
		return "-", nil
	}

	esc := template.HTMLEscapeString
	canChange := a.HasChangePermission(ctx, r)

	var buttons []string
	if canChange || a.HasViewPermission(ctx, r) {
		buttons = append(buttons, fmt.Sprintf(
			`<a href="%s" class="btn btn-sm btn-outline-info" data-toggle="modal-detail">%s</a>`,
			esc(DetailURL(a.entity, r.PK())), esc(T(ctx, "View"))))
	}
	if canChange {
		buttons = append(buttons, fmt.Sprintf(
			`<a href="%s" class="btn btn-sm btn-outline-primary">%s</a>`,
			esc(changeURL(a.entity, r.PK())), esc(T(ctx, "Edit"))))
	}
	if a.HasDeletePermission(ctx, r) {
		buttons = append(buttons, fmt.Sprintf(
			`<a href="%s" class="btn btn-sm btn-outline-danger" onclick="return confirm('%s');">%s</a>`,
			esc(deleteURL(a.entity, r.PK())),
			template.JSEscapeString(T(ctx, "Are you sure you want to delete this item?")),
			esc(T(ctx, "Delete"))))
	}

	if len(buttons) == 0 {
		return "-", nil
	}
	return `<div class="action-buttons-group">` + strings.Join(buttons, " ") + `</div>`, nil
}

// withActionButtons adds the action_buttons computed column to a.
func (a *ModelAdmin) withActionButtons() {
	a.AddComputed(&Computed{
		Name:             ActionButtons,
		ShortDescription: "Actions",
		Fn:               a.actionButtons,
	})
}

// Label resolves the display label of a column: computed short description,
// then field verbose name, then the title-cased name.
func Label(ctx context.Context, e *Entity, a *ModelAdmin, name string) string {
	if a != nil {
		if c, ok := a.ComputedColumn(name); ok {
			if c.ShortDescription != "" {
				return T(ctx, c.ShortDescription)
			}
			return TitleCase(name)
		}
	}
	if e != nil {
		if f, ok := e.Field(name); ok && f.VerboseName != "" {
			return T(ctx, f.VerboseName)
		}
	}
	return TitleCase(name)
}
