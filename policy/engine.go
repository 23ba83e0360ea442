// Package policy decides admin permissions with OPA Rego policies.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/telemetry"
)

// Query is the rule every policy must define.
const Query = "data.armoryx.authz.allow"

//go:embed rego/authz.rego
var defaultPolicy string

// Input is the document policies see as input.
type Input struct {
	User       User   `json:"user"`
	Action     string `json:"action"`
	Namespace  string `json:"namespace"`
	Entity     string `json:"entity"`
	Permission string `json:"permission"`
	ObjectID   *int64 `json:"object_id,omitempty"`
}

// User is the principal as seen by policies.
type User struct {
	Username    string   `json:"username"`
	IsStaff     bool     `json:"is_staff"`
	IsSuperuser bool     `json:"is_superuser"`
	Permissions []string `json:"permissions"`
}

// Engine evaluates the allow rule of a set of Rego modules. It implements
// admin.Authorizer.
type Engine struct {
	query   rego.PreparedEvalQuery
	modules []string
	logger  *telemetry.Logger
	tracer  trace.Tracer
}

// Module is one named Rego source.
type Module struct {
	Name   string
	Source string
}

// NewEngine compiles modules. With no modules the embedded default policy is used.
func NewEngine(ctx context.Context, modules ...Module) (*Engine, error) {
	pe := &Engine{
		logger: telemetry.NewLogger("policy-engine"),
		tracer: otel.Tracer("policy-engine"),
	}

	ctx, span := pe.tracer.Start(ctx, "policy_engine.compile",
		trace.WithAttributes(attribute.Int("policy.modules", len(modules))))
	defer span.End()

	if len(modules) == 0 {
		modules = []Module{{Name: "authz.rego", Source: defaultPolicy}}
	}

	opts := []func(*rego.Rego){rego.Query(Query)}
	for _, m := range modules {
		opts = append(opts, rego.Module(m.Name, m.Source))
		pe.modules = append(pe.modules, m.Name)
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		pe.logger.WithContext(ctx).Error().
			Err(err).
			Strs("modules", pe.modules).
			Msg("failed to compile policy")
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	pe.query = prepared

	return pe, nil
}

// Modules returns the names of the compiled modules.
func (pe *Engine) Modules() []string {
	return pe.modules
}

// BuildInput converts an access request into policy input.
func BuildInput(req admin.AccessRequest) Input {
	in := Input{
		Action:     string(req.Action),
		Namespace:  req.Namespace,
		Entity:     req.Entity,
		Permission: req.Permission(),
		ObjectID:   req.ObjectID,
	}
	if p := req.Principal; p != nil {
		in.User = User{
			Username:    p.Username,
			IsStaff:     p.IsStaff,
			IsSuperuser: p.IsSuperuser,
			Permissions: p.Permissions,
		}
	}
	if in.User.Permissions == nil {
		in.User.Permissions = []string{}
	}
	return in
}

// Allowed evaluates the allow rule. An undefined result denies.
func (pe *Engine) Allowed(ctx context.Context, req admin.AccessRequest) (bool, error) {
	input := BuildInput(req)

	ctx, span := pe.tracer.Start(ctx, "policy_engine.evaluate",
		trace.WithAttributes(
			attribute.String("policy.permission", input.Permission),
			attribute.String("policy.user", input.User.Username)))
	defer span.End()

	results, err := pe.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("evaluate policy: %w", err)
	}

	allowed := false
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		v, ok := results[0].Expressions[0].Value.(bool)
		if !ok {
			return false, fmt.Errorf("evaluate policy: %s is %T, want bool", Query, results[0].Expressions[0].Value)
		}
		allowed = v
	}
	span.SetAttributes(attribute.Bool("policy.allowed", allowed))

	event := pe.logger.WithContext(ctx).Debug().
		Str("user", input.User.Username).
		Str("permission", input.Permission).
		Bool("allowed", allowed)
	if input.ObjectID != nil {
		event = event.Str("object_id", strconv.FormatInt(*input.ObjectID, 10))
	}
	event.Msg("policy evaluated")

	return allowed, nil
}
