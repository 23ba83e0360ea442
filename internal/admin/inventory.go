package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/yairfalse/armoryx/pkg/inventory"
	"github.com/yairfalse/armoryx/storage"
)

// RegisterInventory registers the Instance and VPC entities backed by store.
func RegisterInventory(reg *Registry, store *storage.Store, authz Authorizer) {
	vpcs := VpcEntity(store)
	instances := InstanceEntity(store)
	Link(instances, "vpc", vpcs)
	Link(vpcs, "instances", instances)

	reg.Register(instances, InstanceAdmin(authz))
	reg.Register(vpcs, VpcAdmin(authz))
}

// Link points the relation field name of e at target.
func Link(e *Entity, name string, target *Entity) {
	if f, ok := e.Field(name); ok {
		f.Related = target
	}
}

// InstanceAdmin is the admin configuration of instances/instance.
func InstanceAdmin(authz Authorizer) *ModelAdmin {
	return &ModelAdmin{
		ListDisplay: []string{
			"instance_id",
			"instance_name",
			"account",
			"region",
			"ip",
			"state",
			"security_group_id",
			"create_time",
			ActionButtons,
		},
		ListDisplayLinks: []string{"instance_id"},
		ListFilter:       []string{"account", "region", "state"},
		SearchFields: []string{
			"instance_id",
			"instance_name",
			"account",
			"ip",
			"security_group_id",
			"vpc__vpc_name",
		},
		ReadonlyFields: []string{"create_time"},
		DateHierarchy:  "create_time",
		ListPerPage:    DefaultListPerPage,
		Authorizer:     authz,
	}
}

// VpcAdmin is the admin configuration of vpc/vpc.
func VpcAdmin(authz Authorizer) *ModelAdmin {
	return &ModelAdmin{
		ListDisplay:      []string{"vpc_id", "vpc_name", "account", "region", ActionButtons},
		ListDisplayLinks: []string{"vpc_id"},
		ListFilter:       []string{"account", "region"},
		SearchFields:     []string{"vpc_id", "vpc_name", "account"},
		ListPerPage:      DefaultListPerPage,
		Authorizer:       authz,
	}
}

// accessor adapts a typed getter to a ValueFunc.
func accessor[T Record](get func(T) any) ValueFunc {
	return func(_ context.Context, r Record) (any, error) {
		rec, ok := r.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected record type %T", r)
		}
		return get(rec), nil
	}
}

func textField(name, verbose string, get func(*inventory.Instance) any) *Field {
	return &Field{Name: name, VerboseName: verbose, Kind: KindText, Concrete: true, Value: accessor(get)}
}

// InstanceEntity describes instances/instance. The vpc field must be linked
// to the VPC entity before related lookups work.
func InstanceEntity(store *storage.Store) *Entity {
	var choices []Choice
	for _, s := range inventory.States() {
		choices = append(choices, Choice{Value: string(s), Label: s.Label()})
	}

	return &Entity{
		Namespace:         "instances",
		Name:              "instance",
		VerboseName:       "Instance",
		VerboseNamePlural: "Instances",
		Ordering:          []string{"-create_time"},
		Objects:           &instanceCollection{store: store},
		Fields: []*Field{
			{
				Name: "id", VerboseName: "ID", Kind: KindInteger, Concrete: true, AutoCreated: true,
				Value: accessor(func(in *inventory.Instance) any { return in.ID }),
			},
			textField("account", "Account", func(in *inventory.Instance) any { return in.Account }),
			textField("region", "Region", func(in *inventory.Instance) any { return in.Region }),
			textField("instance_id", "Instance ID", func(in *inventory.Instance) any { return in.InstanceID }),
			textField("instance_name", "Instance Name", func(in *inventory.Instance) any { return in.InstanceName }),
			{
				Name: "ip", VerboseName: "IP Address", Kind: KindIP, Concrete: true,
				Value: accessor(func(in *inventory.Instance) any { return in.IP }),
			},
			textField("security_group_id", "Security Group ID", func(in *inventory.Instance) any { return in.SecurityGroupID }),
			{
				Name: "vpc", VerboseName: "VPC", Kind: KindForeignKey, Concrete: true,
				Value: func(_ context.Context, r Record) (any, error) {
					in, ok := r.(*inventory.Instance)
					if !ok {
						return nil, fmt.Errorf("unexpected record type %T", r)
					}
					if in.VpcPK == nil {
						return nil, nil
					}
					vpc, err := store.GetVpc(*in.VpcPK)
					if err != nil {
						return nil, err
					}
					return vpc, nil
				},
			},
			{
				Name: "state", VerboseName: "State", Kind: KindChoice, Concrete: true, Choices: choices,
				Value: accessor(func(in *inventory.Instance) any { return string(in.State) }),
			},
			{
				Name: "create_time", VerboseName: "Create Time", Kind: KindDateTime, Concrete: true,
				Value: accessor(func(in *inventory.Instance) any { return in.CreateTime }),
			},
		},
	}
}

// VpcEntity describes vpc/vpc. The reverse instances relation must be linked
// to the instance entity before related lookups work.
func VpcEntity(store *storage.Store) *Entity {
	vpcText := func(name, verbose string, get func(*inventory.Vpc) any) *Field {
		return &Field{Name: name, VerboseName: verbose, Kind: KindText, Concrete: true, Value: accessor(get)}
	}

	return &Entity{
		Namespace:         "vpc",
		Name:              "vpc",
		VerboseName:       "VPC",
		VerboseNamePlural: "VPCs",
		Ordering:          []string{"-id"},
		Objects:           &vpcCollection{store: store},
		Fields: []*Field{
			{
				Name: "id", VerboseName: "ID", Kind: KindInteger, Concrete: true, AutoCreated: true,
				Value: accessor(func(v *inventory.Vpc) any { return v.ID }),
			},
			vpcText("account", "Account", func(v *inventory.Vpc) any { return v.Account }),
			vpcText("region", "Region", func(v *inventory.Vpc) any { return v.Region }),
			vpcText("vpc_id", "VPC ID", func(v *inventory.Vpc) any { return v.VpcID }),
			vpcText("vpc_name", "VPC Name", func(v *inventory.Vpc) any { return v.VpcName }),
			{
				Name: "instances", Kind: KindMany, AutoCreated: true,
				Value: func(_ context.Context, r Record) (any, error) {
					v, ok := r.(*inventory.Vpc)
					if !ok {
						return nil, fmt.Errorf("unexpected record type %T", r)
					}
					list, err := store.InstancesByVpc(v.ID)
					if err != nil {
						return nil, err
					}
					out := make([]Record, len(list))
					for i, in := range list {
						out[i] = in
					}
					return out, nil
				},
			},
		},
	}
}

type instanceCollection struct {
	store *storage.Store
}

func (c *instanceCollection) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, err := c.store.ListInstances()
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(list))
	for i, in := range list {
		out[i] = in
	}
	return out, nil
}

func (c *instanceCollection) Get(ctx context.Context, pk int64) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in, err := c.store.GetInstance(pk)
	if err != nil {
		return nil, notFound(err)
	}
	return in, nil
}

func (c *instanceCollection) Create(ctx context.Context, body io.Reader) (Record, error) {
	var in inventory.Instance
	if err := decodeStrict(body, &in); err != nil {
		return nil, err
	}
	// id and create_time are always assigned by the store
	in.ID = 0
	in.CreateTime = time.Time{}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.store.CreateInstance(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (c *instanceCollection) Delete(ctx context.Context, pk int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return notFound(c.store.DeleteInstance(pk))
}

type vpcCollection struct {
	store *storage.Store
}

func (c *vpcCollection) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, err := c.store.ListVpcs()
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(list))
	for i, v := range list {
		out[i] = v
	}
	return out, nil
}

func (c *vpcCollection) Get(ctx context.Context, pk int64) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := c.store.GetVpc(pk)
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

func (c *vpcCollection) Create(ctx context.Context, body io.Reader) (Record, error) {
	var v inventory.Vpc
	if err := decodeStrict(body, &v); err != nil {
		return nil, err
	}
	v.ID = 0
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.store.CreateVpc(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *vpcCollection) Delete(ctx context.Context, pk int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return notFound(c.store.DeleteVpc(pk))
}

func decodeStrict(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", inventory.ErrValidation, err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
