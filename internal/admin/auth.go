package admin

import (
	"context"
	"fmt"
)

// Action is an operation a principal may perform on an entity.
type Action string

const (
	ActionView   Action = "view"
	ActionChange Action = "change"
	ActionDelete Action = "delete"
	ActionAdd    Action = "add"
)

// Principal is an authenticated caller.
type Principal struct {
	Username    string   `json:"username"`
	IsStaff     bool     `json:"is_staff"`
	IsSuperuser bool     `json:"is_superuser"`
	Permissions []string `json:"permissions"`
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// AccessRequest is the question put to an Authorizer.
type AccessRequest struct {
	Principal *Principal `json:"principal"`
	Action    Action     `json:"action"`
	Namespace string     `json:"namespace"`
	Entity    string     `json:"entity"`
	ObjectID  *int64     `json:"object_id,omitempty"`
}

// Permission returns the codename the request needs, e.g.
// "instances.view_instance".
func (req AccessRequest) Permission() string {
	return fmt.Sprintf("%s.%s_%s", req.Namespace, req.Action, req.Entity)
}

// Authorizer decides whether an access request is allowed.
type Authorizer interface {
	Allowed(ctx context.Context, req AccessRequest) (bool, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, req AccessRequest) (bool, error)

// Allowed calls f.
func (f AuthorizerFunc) Allowed(ctx context.Context, req AccessRequest) (bool, error) {
	return f(ctx, req)
}
