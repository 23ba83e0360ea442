package admin

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/yairfalse/armoryx/pkg/inventory"
	"github.com/yairfalse/armoryx/storage"
)

func newTestRegistry(t *testing.T, authz Authorizer) (*Registry, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := NewRegistry()
	RegisterInventory(reg, store, authz)
	return reg, store
}

// permissionAuthorizer grants actions listed in perms, keyed by codename.
func permissionAuthorizer(perms ...string) Authorizer {
	granted := make(map[string]bool)
	for _, p := range perms {
		granted[p] = true
	}
	return AuthorizerFunc(func(_ context.Context, req AccessRequest) (bool, error) {
		return granted[req.Permission()], nil
	})
}

func staffContext() context.Context {
	return WithPrincipal(context.Background(), &Principal{Username: "ops", IsStaff: true})
}

func TestRegistry_Lookup(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)

	e, a, err := reg.Lookup("instances", "instance")
	require.NoError(t, err)
	assert.Equal(t, "instances/instance", e.Key())
	assert.NotNil(t, a)

	_, _, err = reg.Lookup("Vpc", "VPC")
	require.NoError(t, err)

	_, _, err = reg.Lookup("instances", "nope")
	assert.ErrorIs(t, err, ErrEntityNotFound)

	reg.Register(&Entity{Namespace: "audit", Name: "entry"}, nil)
	e, a, err = reg.Lookup("audit", "entry")
	assert.ErrorIs(t, err, ErrAdminNotFound)
	assert.NotNil(t, e)
	assert.Nil(t, a)

	assert.Len(t, reg.Entities(), 3)
}

func TestLabel(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	e, a, err := reg.Lookup("instances", "instance")
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "Actions", Label(ctx, e, a, ActionButtons))
	assert.Equal(t, "Instance ID", Label(ctx, e, a, "instance_id"))
	assert.Equal(t, "IP Address", Label(ctx, e, a, "ip"))
	assert.Equal(t, "Cost Center Code", Label(ctx, e, a, "cost_center_code"))

	a.AddComputed(&Computed{Name: "uptime_days"})
	assert.Equal(t, "Uptime Days", Label(ctx, e, a, "uptime_days"))

	zh := WithLanguage(ctx, language.SimplifiedChinese)
	assert.Equal(t, "实例ID", Label(zh, e, a, "instance_id"))
}

func TestAccessRequest_Permission(t *testing.T) {
	req := AccessRequest{Action: ActionDelete, Namespace: "vpc", Entity: "vpc"}
	assert.Equal(t, "vpc.delete_vpc", req.Permission())

	req = AccessRequest{Action: ActionView, Namespace: "instances", Entity: "instance"}
	assert.Equal(t, "instances.view_instance", req.Permission())
}

func TestPermissions_ChangeImpliesView(t *testing.T) {
	reg, _ := newTestRegistry(t, permissionAuthorizer("instances.change_instance"))
	_, a, err := reg.Lookup("instances", "instance")
	require.NoError(t, err)

	ctx := staffContext()
	rec := &inventory.Instance{ID: 7}
	assert.True(t, a.HasViewPermission(ctx, rec))
	assert.True(t, a.HasChangePermission(ctx, rec))
	assert.False(t, a.HasDeletePermission(ctx, rec))
	assert.False(t, a.HasAddPermission(ctx))

	assert.False(t, a.HasViewPermission(context.Background(), rec))
}

func TestPermissions_AuthorizerErrorDenies(t *testing.T) {
	failing := AuthorizerFunc(func(context.Context, AccessRequest) (bool, error) {
		return true, errors.New("policy unavailable")
	})
	reg, _ := newTestRegistry(t, failing)
	_, a, err := reg.Lookup("vpc", "vpc")
	require.NoError(t, err)

	assert.False(t, a.HasViewPermission(staffContext(), &inventory.Vpc{ID: 1}))
}

func TestPermissions_NoAuthorizerOnlySuperuser(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	_, a, err := reg.Lookup("vpc", "vpc")
	require.NoError(t, err)

	root := WithPrincipal(context.Background(), &Principal{Username: "root", IsStaff: true, IsSuperuser: true})
	assert.True(t, a.HasDeletePermission(root, &inventory.Vpc{ID: 1}))
	assert.False(t, a.HasDeletePermission(staffContext(), &inventory.Vpc{ID: 1}))
}

func TestActionButtons(t *testing.T) {
	tests := []struct {
		name    string
		perms   []string
		want    []string
		notWant []string
	}{
		{
			name:    "view only",
			perms:   []string{"instances.view_instance"},
			want:    []string{"/admin/instances/instance/5/view/", ">View<"},
			notWant: []string{">Edit<", ">Delete<"},
		},
		{
			name:  "change and delete",
			perms: []string{"instances.change_instance", "instances.delete_instance"},
			want:  []string{">View<", "/admin/instances/instance/5/change/", ">Edit<", "/admin/instances/instance/5/delete/", ">Delete<"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry(t, permissionAuthorizer(tt.perms...))
			_, a, err := reg.Lookup("instances", "instance")
			require.NoError(t, err)

			c, ok := a.ComputedColumn(ActionButtons)
			require.True(t, ok)

			got, err := c.Fn(staffContext(), &inventory.Instance{ID: 5})
			require.NoError(t, err)
			html := got.(string)
			assert.True(t, strings.HasPrefix(html, `<div class="action-buttons-group">`))
			for _, w := range tt.want {
				assert.Contains(t, html, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, html, w)
			}
		})
	}
}

func TestActionButtons_NoPermissionOrPrincipal(t *testing.T) {
	reg, _ := newTestRegistry(t, permissionAuthorizer())
	_, a, err := reg.Lookup("vpc", "vpc")
	require.NoError(t, err)
	c, _ := a.ComputedColumn(ActionButtons)

	got, err := c.Fn(staffContext(), &inventory.Vpc{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "-", got)

	got, err = c.Fn(context.Background(), &inventory.Vpc{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "-", got)
}

func TestInventoryFields_Relations(t *testing.T) {
	reg, store := newTestRegistry(t, nil)
	ctx := context.Background()

	vpc := &inventory.Vpc{Account: "aws", Region: "us-east-1", VpcID: "vpc-1", VpcName: "production-vpc-1"}
	require.NoError(t, store.CreateVpc(vpc))
	in := &inventory.Instance{
		Account: "aws", Region: "us-east-1", InstanceID: "i-1", InstanceName: "web-server-1",
		IP: "10.0.0.1", SecurityGroupID: "sg-1", VpcPK: &vpc.ID,
	}
	require.NoError(t, store.CreateInstance(in))

	ie, _, err := reg.Lookup("instances", "instance")
	require.NoError(t, err)
	ve, _, err := reg.Lookup("vpc", "vpc")
	require.NoError(t, err)

	fk, ok := ie.Field("vpc")
	require.True(t, ok)
	assert.Same(t, ve, fk.Related)
	got, err := fk.Value(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "production-vpc-1 (vpc-1)", got.(Record).String())

	rev, ok := ve.Field("instances")
	require.True(t, ok)
	assert.False(t, rev.Concrete)
	got, err = rev.Value(ctx, vpc)
	require.NoError(t, err)
	require.Len(t, got.([]Record), 1)

	pk, ok := ie.Field("pk")
	require.True(t, ok)
	assert.Equal(t, "id", pk.Name)

	names := make([]string, 0)
	for _, f := range ve.ConcreteFields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"account", "region", "vpc_id", "vpc_name"}, names)
}

func TestInventoryCollections(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	e, _, err := reg.Lookup("vpc", "vpc")
	require.NoError(t, err)

	creator := e.Objects.(Creator)
	rec, err := creator.Create(ctx, strings.NewReader(`{"account":"aws","region":"us-east-1","vpc_id":"vpc-9","vpc_name":"edge"}`))
	require.NoError(t, err)
	assert.Equal(t, "edge (vpc-9)", rec.String())

	_, err = creator.Create(ctx, strings.NewReader(`{"account":"aws","bogus":1}`))
	assert.ErrorIs(t, err, inventory.ErrValidation)

	got, err := e.Objects.Get(ctx, rec.PK())
	require.NoError(t, err)
	assert.Equal(t, rec.PK(), got.PK())

	require.NoError(t, e.Objects.(Deleter).Delete(ctx, rec.PK()))
	_, err = e.Objects.Get(ctx, rec.PK())
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLanguageHelpers(t *testing.T) {
	assert.Equal(t, language.SimplifiedChinese, MatchLanguage("zh-CN,zh;q=0.9", language.English))
	assert.Equal(t, language.English, MatchLanguage("", language.English))

	tag, err := ParseLanguage("zh")
	require.NoError(t, err)
	assert.Equal(t, language.SimplifiedChinese, tag)

	zh := WithLanguage(context.Background(), tag)
	assert.Equal(t, "是", T(zh, "Yes"))
	assert.Equal(t, "Yes", T(context.Background(), "Yes"))
	assert.Equal(t, "Security Group Id", TitleCase("security_group_id"))
}
