package detail

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/export"
	"github.com/yairfalse/armoryx/pkg/inventory"
	"github.com/yairfalse/armoryx/storage"
	"github.com/yairfalse/armoryx/telemetry"
)

type fixture struct {
	reg      *admin.Registry
	withVpc  *inventory.Instance
	noVpc    *inventory.Instance
	recorded []int
}

func (f *fixture) RecordDetailView(_ context.Context, _ string, status int) {
	f.recorded = append(f.recorded, status)
}

func newFixture(t *testing.T, authz admin.Authorizer) *fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "detail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	vpc := &inventory.Vpc{Account: "aws", Region: "us-east-1", VpcID: "vpc-aaa", VpcName: "production-vpc"}
	require.NoError(t, store.CreateVpc(vpc))

	created := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	withVpc := &inventory.Instance{
		Account: "aws", Region: "us-east-1", InstanceID: "i-001", InstanceName: "web-server-1",
		IP: "10.0.0.1", SecurityGroupID: "sg-1", VpcPK: &vpc.ID, State: inventory.StateRunning, CreateTime: created,
	}
	noVpc := &inventory.Instance{
		Account: "aws", Region: "us-east-1", InstanceID: "i-002", InstanceName: "<script>x</script>",
		IP: "10.0.0.2", SecurityGroupID: "sg-2", State: inventory.StateStopped, CreateTime: created,
	}
	require.NoError(t, store.CreateInstances([]*inventory.Instance{withVpc, noVpc}))

	reg := admin.NewRegistry()
	admin.RegisterInventory(reg, store, authz)
	return &fixture{reg: reg, withVpc: withVpc, noVpc: noVpc}
}

func (f *fixture) renderer(t *testing.T, opts Options) *Renderer {
	t.Helper()
	opts.Recorder = f
	r, err := New(f.reg, export.NewProjector(time.UTC, false), opts)
	require.NoError(t, err)
	return r
}

func superuser() context.Context {
	return admin.WithPrincipal(context.Background(), &admin.Principal{Username: "root", IsStaff: true, IsSuperuser: true})
}

func id(in *inventory.Instance) string {
	return strconv.FormatInt(in.ID, 10)
}

func TestRender_InstanceShowsVpcDisplayString(t *testing.T) {
	f := newFixture(t, nil)
	r := f.renderer(t, Options{})

	frag := r.Render(superuser(), "instances", "instance", id(f.withVpc))
	require.Equal(t, http.StatusOK, frag.Status)

	body := string(frag.Body)
	assert.Contains(t, body, "production-vpc (vpc-aaa)")
	assert.Contains(t, body, "<th scope=\"row\">VPC</th>")
	assert.Contains(t, body, "Running")
	assert.Contains(t, body, "2024-03-10 08:00:00")
	assert.Contains(t, body, "web-server-1 (i-001)")
	assert.NotContains(t, body, "field-id")
	assert.Equal(t, []int{http.StatusOK}, f.recorded)
}

func TestRender_AbsentValuesAndEscaping(t *testing.T) {
	f := newFixture(t, nil)
	r := f.renderer(t, Options{})

	frag := r.Render(superuser(), "instances", "instance", id(f.noVpc))
	require.Equal(t, http.StatusOK, frag.Status)

	body := string(frag.Body)
	assert.Contains(t, body, "<td>-</td>")
	assert.Contains(t, body, "Stopped")
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestRender_PermissionDenied(t *testing.T) {
	authz := admin.AuthorizerFunc(func(_ context.Context, req admin.AccessRequest) (bool, error) {
		return req.Action == admin.ActionDelete, nil
	})
	f := newFixture(t, authz)
	r := f.renderer(t, Options{})

	staff := admin.WithPrincipal(context.Background(), &admin.Principal{Username: "ops", IsStaff: true})
	frag := r.Render(staff, "instances", "instance", id(f.withVpc))
	assert.Equal(t, http.StatusForbidden, frag.Status)
	assert.Contains(t, string(frag.Body), `class="alert alert-warning"`)
	assert.NotContains(t, string(frag.Body), "i-001")

	frag = r.Render(context.Background(), "instances", "instance", id(f.withVpc))
	assert.Equal(t, http.StatusForbidden, frag.Status)
}

func TestRender_ChangePermissionGrantsView(t *testing.T) {
	authz := admin.AuthorizerFunc(func(_ context.Context, req admin.AccessRequest) (bool, error) {
		return req.Action == admin.ActionChange, nil
	})
	f := newFixture(t, authz)
	r := f.renderer(t, Options{})

	staff := admin.WithPrincipal(context.Background(), &admin.Principal{Username: "ops", IsStaff: true})
	frag := r.Render(staff, "instances", "instance", id(f.withVpc))
	assert.Equal(t, http.StatusOK, frag.Status)
}

func TestRender_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	r := f.renderer(t, Options{})
	ctx := superuser()

	tests := []struct {
		name, namespace, entity, id, message string
	}{
		{"unknown entity", "instances", "nope", "1", "Model not found"},
		{"unknown record", "instances", "instance", "999", "object not found"},
		{"non-numeric id", "vpc", "vpc", "abc", "object not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag := r.Render(ctx, tt.namespace, tt.entity, tt.id)
			assert.Equal(t, http.StatusNotFound, frag.Status)
			assert.Contains(t, string(frag.Body), tt.message)
		})
	}

	f.reg.Register(&admin.Entity{Namespace: "audit", Name: "entry"}, nil)
	frag := r.Render(ctx, "audit", "entry", "1")
	assert.Equal(t, http.StatusNotFound, frag.Status)
	assert.Contains(t, string(frag.Body), "ModelAdmin not found")
}

func TestRender_Fieldsets(t *testing.T) {
	f := newFixture(t, nil)
	_, a, err := f.reg.Lookup("instances", "instance")
	require.NoError(t, err)
	a.Fieldsets = []admin.Fieldset{
		{Name: "Identity", Fields: []string{"instance_id", "instance_name"}},
		{Name: "Network", Fields: []string{"ip", "vpc"}},
	}
	r := f.renderer(t, Options{})

	frag := r.Render(superuser(), "instances", "instance", id(f.withVpc))
	require.Equal(t, http.StatusOK, frag.Status)
	body := string(frag.Body)
	assert.Contains(t, body, "<legend>Identity</legend>")
	assert.Contains(t, body, "<legend>Network</legend>")
	assert.NotContains(t, body, "field-account")
}

func TestRender_ReadonlyExtrasFollowConcreteFields(t *testing.T) {
	f := newFixture(t, nil)
	_, a, err := f.reg.Lookup("instances", "instance")
	require.NoError(t, err)
	a.AddComputed(&admin.Computed{
		Name:             "uptime",
		ShortDescription: "Uptime",
		Fn: func(context.Context, admin.Record) (any, error) {
			return "3 days", nil
		},
	})
	a.ReadonlyFields = []string{"instance_id", "uptime"}
	r := f.renderer(t, Options{})

	frag := r.Render(superuser(), "instances", "instance", id(f.withVpc))
	require.Equal(t, http.StatusOK, frag.Status)
	body := string(frag.Body)
	assert.Contains(t, body, `<tr class="field-uptime">`)
	assert.Contains(t, body, "3 days")
	assert.Equal(t, 1, strings.Count(body, `<tr class="field-instance_id">`))
	assert.Less(t, strings.Index(body, "field-create_time"), strings.Index(body, "field-uptime"))
}

func TestRender_LogsSpan(t *testing.T) {
	f := newFixture(t, nil)
	var buf bytes.Buffer
	r := f.renderer(t, Options{Logger: &telemetry.Logger{Logger: zerolog.New(&buf)}})

	frag := r.Render(superuser(), "instances", "instance", id(f.withVpc))
	require.Equal(t, http.StatusOK, frag.Status)
	out := buf.String()
	assert.Contains(t, out, `"span_name":"detail.render"`)
	assert.Contains(t, out, `"detail.entity":"instances/instance"`)
	assert.Contains(t, out, "span started")
	assert.Contains(t, out, "span completed")

	buf.Reset()
	r.form = template.Must(template.New("form").Parse(`{{.AlsoMissing}}`))
	r.primary = template.Must(template.New("detail").Parse(`{{.Missing}}`))
	frag = r.Render(superuser(), "instances", "instance", id(f.withVpc))
	require.Equal(t, http.StatusInternalServerError, frag.Status)
	assert.Contains(t, buf.String(), "span failed")
}

func TestRender_Translated(t *testing.T) {
	f := newFixture(t, nil)
	r := f.renderer(t, Options{})
	ctx := admin.WithLanguage(superuser(), language.SimplifiedChinese)

	frag := r.Render(ctx, "instances", "instance", id(f.withVpc))
	require.Equal(t, http.StatusOK, frag.Status)
	assert.Contains(t, string(frag.Body), "运行中")
	assert.Contains(t, string(frag.Body), "实例ID")
}

func TestRender_TemplateFallbacks(t *testing.T) {
	f := newFixture(t, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PrimaryTemplate), []byte(`<p>{{.Missing}}</p>`), 0o600))
	r := f.renderer(t, Options{TemplateDir: dir})

	frag := r.Render(superuser(), "instances", "instance", id(f.withVpc))
	require.Equal(t, http.StatusOK, frag.Status)
	body := string(frag.Body)
	assert.Contains(t, body, `class="readonly-form"`)
	assert.Contains(t, body, `value="production-vpc (vpc-aaa)"`)

	r.form = template.Must(template.New("form").Parse(`{{.AlsoMissing}}`))
	frag = r.Render(superuser(), "instances", "instance", id(f.withVpc))
	assert.Equal(t, http.StatusInternalServerError, frag.Status)
	body = string(frag.Body)
	assert.Contains(t, body, "Missing")
	assert.Contains(t, body, "AlsoMissing")
	assert.Contains(t, body, "alert-danger")
}

func TestNew_BadTemplateDir(t *testing.T) {
	f := newFixture(t, nil)
	_, err := New(f.reg, export.NewProjector(nil, false), Options{TemplateDir: t.TempDir()})
	assert.Error(t, err)
}
