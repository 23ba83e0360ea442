// Package admin describes the entities managed by armoryx and how each one is
// listed, searched, filtered and shown in the management UI.
package admin

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrEntityNotFound is returned when no entity is registered under a key.
	ErrEntityNotFound = errors.New("Model not found")
	// ErrAdminNotFound is returned when an entity exists but has no admin.
	ErrAdminNotFound = errors.New("ModelAdmin not found")
	// ErrObjectNotFound is returned when a record does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// Kind tags a field with the formatting rules that apply to its values.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindBoolean
	KindIP
	KindChoice
	KindDateTime
	KindDate
	KindForeignKey
	KindMany
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindIP:
		return "ip"
	case KindChoice:
		return "choice"
	case KindDateTime:
		return "datetime"
	case KindDate:
		return "date"
	case KindForeignKey:
		return "foreign_key"
	case KindMany:
		return "many"
	default:
		return "unknown"
	}
}

// IsRelation reports whether values of this kind point at other records.
func (k Kind) IsRelation() bool {
	return k == KindForeignKey || k == KindMany
}

// Record is a single persisted entity instance.
type Record interface {
	PK() int64
	String() string
}

// Choice is one allowed value of a choice field.
type Choice struct {
	Value string
	Label string
}

// ValueFunc reads one field of a record. Foreign keys return a Record or nil,
// multi-valued relations return []Record.
type ValueFunc func(ctx context.Context, r Record) (any, error)

// Field describes one attribute of an entity.
type Field struct {
	Name        string
	VerboseName string
	Kind        Kind

	// Concrete fields are stored columns. Reverse relations are not.
	Concrete    bool
	AutoCreated bool

	Choices []Choice

	// Related is the target entity of a relation field.
	Related *Entity

	Value ValueFunc
}

// ChoiceLabel returns the display label for a stored choice value, or the
// value itself when it is not a known choice.
func (f *Field) ChoiceLabel(value string) string {
	for _, c := range f.Choices {
		if c.Value == value {
			return c.Label
		}
	}
	return value
}

// Collection is the base set of records for an entity.
type Collection interface {
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, pk int64) (Record, error)
}

// Creator is implemented by collections that accept new records.
type Creator interface {
	Create(ctx context.Context, body io.Reader) (Record, error)
}

// Deleter is implemented by collections that can remove records.
type Deleter interface {
	Delete(ctx context.Context, pk int64) error
}

// Entity is a registered record type.
type Entity struct {
	Namespace         string
	Name              string
	VerboseName       string
	VerboseNamePlural string

	Fields   []*Field
	Ordering []string

	Objects Collection
}

// Key returns "namespace/name".
func (e *Entity) Key() string {
	return e.Namespace + "/" + e.Name
}

// Field returns the field with the given name. "pk" resolves to the primary
// key field.
func (e *Entity) Field(name string) (*Field, bool) {
	if name == "pk" {
		name = "id"
	}
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// ConcreteFields returns stored, non auto-created fields in declaration order.
func (e *Entity) ConcreteFields() []*Field {
	var out []*Field
	for _, f := range e.Fields {
		if f.Concrete && !f.AutoCreated {
			out = append(out, f)
		}
	}
	return out
}
