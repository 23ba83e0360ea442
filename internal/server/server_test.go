package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/config"
	"github.com/yairfalse/armoryx/internal/detail"
	"github.com/yairfalse/armoryx/internal/export"
	"github.com/yairfalse/armoryx/pkg/inventory"
	"github.com/yairfalse/armoryx/policy"
	"github.com/yairfalse/armoryx/storage"
)

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	vpc     *inventory.Vpc
	web1    *inventory.Instance
}

type failingCollection struct{}

func (failingCollection) List(context.Context) ([]admin.Record, error) {
	return nil, errors.New("disk on fire")
}

func (failingCollection) Get(context.Context, int64) (admin.Record, error) {
	return nil, errors.New("disk on fire")
}

type panickingCollection struct{}

func (panickingCollection) List(context.Context) ([]admin.Record, error) {
	panic("index corrupted")
}

func (panickingCollection) Get(context.Context, int64) (admin.Record, error) {
	panic("index corrupted")
}

var testUsers = []config.User{
	{Username: "root", Token: "root-token", Superuser: true},
	{Username: "ops", Token: "ops-token", Staff: true, Permissions: []string{"instances.view_instance"}},
	{Username: "auditor", Password: "s3cret", Staff: true, Permissions: []string{"vpc.view_vpc"}},
	{Username: "guest", Password: "pw", Permissions: []string{"instances.view_instance"}},
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	vpc := &inventory.Vpc{Account: "aws", Region: "us-east-1", VpcID: "vpc-aaa", VpcName: "production-vpc"}
	require.NoError(t, store.CreateVpc(vpc))

	day := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	web1 := &inventory.Instance{
		Account: "aws", Region: "us-east-1", InstanceID: "i-001", InstanceName: "web-server-1",
		IP: "10.0.0.1", SecurityGroupID: "sg-1", VpcPK: &vpc.ID, State: inventory.StateRunning, CreateTime: day,
	}
	db := &inventory.Instance{
		Account: "aliyun", Region: "cn-beijing", InstanceID: "i-002", InstanceName: "db-primary",
		IP: "10.0.0.2", SecurityGroupID: "sg-2", State: inventory.StateStopped, CreateTime: day.Add(-24 * time.Hour),
	}
	web2 := &inventory.Instance{
		Account: "aws", Region: "us-east-1", InstanceID: "i-003", InstanceName: "web-server-2",
		IP: "10.0.0.3", SecurityGroupID: "sg-3", VpcPK: &vpc.ID, State: inventory.StateStopped, CreateTime: day.Add(-48 * time.Hour),
	}
	require.NoError(t, store.CreateInstances([]*inventory.Instance{web1, db, web2}))

	engine, err := policy.NewEngine(ctx)
	require.NoError(t, err)

	reg := admin.NewRegistry()
	admin.RegisterInventory(reg, store, engine)
	reg.Register(&admin.Entity{Namespace: "audit", Name: "event"}, nil)
	reg.Register(
		&admin.Entity{Namespace: "broken", Name: "thing", VerboseNamePlural: "Things", Objects: failingCollection{}},
		&admin.ModelAdmin{ListDisplay: []string{"name"}, Authorizer: engine},
	)
	reg.Register(
		&admin.Entity{Namespace: "broken", Name: "panics", VerboseNamePlural: "Panics", Objects: panickingCollection{}},
		&admin.ModelAdmin{ListDisplay: []string{"name"}, Authorizer: engine},
	)

	exporter := export.NewExporter(reg, export.Options{Location: time.UTC, CellErrorDetail: true, Spreadsheet: true}, nil)
	renderer, err := detail.New(reg, exporter.Projector(), detail.Options{})
	require.NoError(t, err)

	srv := New(Options{
		Registry: reg,
		Exporter: exporter,
		Detail:   renderer,
		Auth:     NewAuthenticator(testUsers),
		Language: language.English,
		Ready:    func(context.Context) error { return nil },
	})
	return &testEnv{handler: srv.Routes(), store: store, vpc: vpc, web1: web1}
}

func (e *testEnv) do(t *testing.T, method, target, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestExport_JSONWithFilters(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/export/instances/instance/json/?state=running&q=web", "root-token", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, export.ContentTypeJSON, rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=Instances_export.json", rec.Header().Get("Content-Disposition"))
	assert.NotEmpty(t, rec.Header().Get("X-Export-Id"))

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "i-001", rows[0]["Instance ID"])
	assert.Equal(t, "2024-03-10 08:00:00", rows[0]["Create Time"])
	assert.NotContains(t, rows[0], "Actions")
}

func TestExport_SelectedColumnsAndIDs(t *testing.T) {
	env := newTestEnv(t)

	target := "/export/instances/instance/json?columns[]=instance_name&columns[]=vpc&selected_ids[]=1&selected_ids[]=2"
	rec := env.do(t, http.MethodGet, target, "root-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{"Instance Name": "web-server-1", "VPC": "production-vpc (vpc-aaa)"}, rows[0])
	assert.Equal(t, map[string]any{"Instance Name": "db-primary", "VPC": nil}, rows[1])
}

func TestExport_Excel(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/export/vpc/vpc/excel", "root-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentTypeXLSX, rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=VPCs_export.xlsx", rec.Header().Get("Content-Disposition"))
	assert.NotZero(t, rec.Body.Len())
}

func TestExport_ChineseFilename(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/export/instances/instance/json", nil)
	req.Header.Set("Authorization", "Bearer root-token")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "filename*=utf-8''")
	assert.Contains(t, rec.Body.String(), "实例ID")
}

func TestExport_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		target string
		status int
		body   string
	}{
		{"unknown format", "/export/instances/instance/xml/", http.StatusBadRequest, `{"error": "Invalid format type"}`},
		{"csv is cli only", "/export/instances/instance/csv", http.StatusBadRequest, `{"error": "Invalid format type"}`},
		{"unknown entity", "/export/instances/nope/json", http.StatusNotFound, `{"error": "Model not found"}`},
		{"unknown entity before format", "/export/instances/nope/xml", http.StatusNotFound, `{"error": "Model not found"}`},
		{"entity without admin", "/export/audit/event/json", http.StatusNotFound, `{"error": "ModelAdmin not found"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.target, "root-token", nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestExport_UnexpectedErrorIs500(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/export/broken/thing/json", "root-token", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "disk on fire")
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/export/instances/instance/json", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="armoryx"`, rec.Header().Get("WWW-Authenticate"))
	assert.JSONEq(t, `{"error": "Unauthorized"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/export/instances/instance/json", "wrong-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/export/instances/instance/json", nil)
	req.SetBasicAuth("guest", "pw")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "non-staff users are rejected")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/vpc/vpc", nil)
	req.SetBasicAuth("auditor", "s3cret")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/vpc/vpc", nil)
	req.SetBasicAuth("auditor", "wrong")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/-/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_Failing(t *testing.T) {
	srv := New(Options{Ready: func(context.Context) error { return errors.New("database closed") }})
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error": "database closed"}`, rec.Body.String())
}

func TestDetail(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/admin/instances/instance/1/view/", "root-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, detail.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "production-vpc (vpc-aaa)")

	rec = env.do(t, http.MethodGet, "/admin/vpc/vpc/1/view/", "ops-token", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "vpc-aaa")

	rec = env.do(t, http.MethodGet, "/admin/instances/instance/999/view", "root-token", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "object not found")
}

func TestList_PaginatedWithColumns(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/instances/instance?limit=2", "ops-token", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Items   []map[string]any `json:"items"`
		Total   int64            `json:"total"`
		Limit   int              `json:"limit"`
		Offset  int              `json:"offset"`
		Columns []export.Column  `json:"columns"`
		Meta    *AdminMeta       `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, int64(3), resp.Total)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, []string{"account", "region", "state"}, resp.Meta.ListFilter)
	assert.Equal(t, "create_time", resp.Meta.DateHierarchy)
	assert.Equal(t, []string{"instance_id"}, resp.Meta.ListDisplayLinks)
	assert.Equal(t, []string{"create_time"}, resp.Meta.ReadonlyFields)
	assert.Equal(t, admin.DefaultListPerPage, resp.Meta.ListPerPage)
	assert.Equal(t, 2, resp.Limit)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "i-001", resp.Items[0]["instance_id"])
	assert.Equal(t, "i-002", resp.Items[1]["instance_id"])
	assert.Equal(t, export.Column{Field: "id", Label: "ID"}, resp.Columns[0])
	assert.Equal(t, export.Column{Field: "action_buttons", Label: "Actions"}, resp.Columns[len(resp.Columns)-1])

	buttons, _ := resp.Items[0]["action_buttons"].(string)
	assert.Contains(t, buttons, "/admin/instances/instance/1/view/")
	assert.NotContains(t, buttons, "/change/", "view permission only")

	rec = env.do(t, http.MethodGet, "/api/v1/instances/instance?limit=1000&offset=2&state=stopped", "ops-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, MaxLimit, resp.Limit)
	assert.Equal(t, int64(2), resp.Total)
	assert.Empty(t, resp.Items)
}

func TestIndex_ListsViewableEntities(t *testing.T) {
	env := newTestEnv(t)

	var items []EntitySummary
	rec := env.do(t, http.MethodGet, "/api/v1/", "ops-token", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "instances", items[0].Namespace)
	assert.Equal(t, "Instances", items[0].VerboseNamePlural)
	assert.Equal(t, "/api/v1/instances/instance", items[0].URL)
	assert.Equal(t, "create_time", items[0].Meta.DateHierarchy)

	items = nil
	rec = env.do(t, http.MethodGet, "/api/v1", "root-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	var keys []string
	for _, it := range items {
		keys = append(keys, it.Namespace+"/"+it.Name)
	}
	// audit/event has no admin configuration
	assert.Equal(t, []string{"broken/panics", "broken/thing", "instances/instance", "vpc/vpc"}, keys)
}

func TestPanicRendersJSONError(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/export/broken/panics/json", "root-token", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "index corrupted"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/broken/panics", "root-token", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "index corrupted"}`, rec.Body.String())
}

func TestList_Forbidden(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/vpc/vpc", "ops-token", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error": "Permission denied"}`, rec.Body.String())
}

func TestCreate(t *testing.T) {
	env := newTestEnv(t)

	body := `{"account":"aws","region":"us-east-1","instance_id":"i-004","instance_name":"cache-1","ip":"10.0.0.4","security_group_id":"sg-4","vpc":1}`
	rec := env.do(t, http.MethodPost, "/api/v1/instances/instance", "root-token", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created inventory.Instance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, inventory.StateRunning, created.State)
	assert.False(t, created.CreateTime.IsZero())

	rec = env.do(t, http.MethodPost, "/api/v1/instances/instance", "root-token", strings.NewReader(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "duplicate instance_id")

	bad := strings.Replace(body, `"10.0.0.4"`, `"not-an-ip"`, 1)
	bad = strings.Replace(bad, "i-004", "i-005", 1)
	rec = env.do(t, http.MethodPost, "/api/v1/instances/instance", "root-token", strings.NewReader(bad))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ip")

	rec = env.do(t, http.MethodPost, "/api/v1/instances/instance", "ops-token", strings.NewReader(body))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDelete_VpcDetachesInstances(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/v1/vpc/vpc/1", "ops-token", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/vpc/vpc/1", "root-token", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	in, err := env.store.GetInstance(env.web1.ID)
	require.NoError(t, err)
	assert.Nil(t, in.VpcPK)

	rec = env.do(t, http.MethodDelete, "/api/v1/vpc/vpc/1", "root-token", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error": "object not found"}`, rec.Body.String())
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", 50, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=-1&offset=-5", 50, 0},
		{"limit=abc", 50, 0},
		{"limit=501", 500, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			p := ParsePagination(req, admin.DefaultListPerPage)
			assert.Equal(t, tt.limit, p.Limit)
			assert.Equal(t, tt.offset, p.Offset)
		})
	}
}
