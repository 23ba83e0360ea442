package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  addr: ":8080"
  read_timeout: 5s
  write_timeout: 2m
  cors_origins: ["https://admin.example.com"]

metrics:
  enabled: true
  addr: ":9100"

storage:
  path: /var/lib/armoryx/inventory.db

log:
  level: debug
  format: console

otel:
  endpoint: localhost:4317
  insecure: true
  service_name: armoryx-admin
  traces:
    enabled: true
    sample_rate: 0.5
  metrics:
    enabled: true

auth:
  policy_file: /etc/armoryx/policy
  users:
    - username: ops
      token: s3cret
      staff: true
      permissions: [instances.view_instance, vpc.view_vpc]
    - username: root
      password: hunter2
      staff: true
      superuser: true

export:
  cell_error_detail: false
  spreadsheet: false

detail:
  template_dir: /etc/armoryx/templates

time_zone: Asia/Shanghai
language: zh

aws:
  regions: [us-east-1, eu-west-1]
  profile: production
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "/var/lib/armoryx/inventory.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "localhost:4317", cfg.OTEL.Endpoint)
	assert.True(t, cfg.OTEL.Insecure)
	assert.Equal(t, "armoryx-admin", cfg.OTEL.ServiceName)
	assert.True(t, cfg.OTEL.Traces.Enabled)
	assert.Equal(t, 0.5, cfg.OTEL.Traces.SampleRate)
	assert.True(t, cfg.OTEL.Metrics.Enabled)
	assert.Equal(t, "/etc/armoryx/policy", cfg.Auth.PolicyFile)
	require.Len(t, cfg.Auth.Users, 2)
	assert.Equal(t, []string{"instances.view_instance", "vpc.view_vpc"}, cfg.Auth.Users[0].Permissions)
	assert.True(t, cfg.Auth.Users[1].Superuser)
	assert.False(t, *cfg.Export.CellErrorDetail)
	assert.False(t, *cfg.Export.Spreadsheet)
	assert.Equal(t, "/etc/armoryx/templates", cfg.Detail.TemplateDir)
	assert.Equal(t, "zh", cfg.Language)
	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, cfg.AWS.Regions)
	assert.Equal(t, "production", cfg.AWS.Profile)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", loc.String())
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "armoryx.db", cfg.Storage.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "armoryx", cfg.OTEL.ServiceName)
	assert.True(t, *cfg.Export.CellErrorDetail)
	assert.True(t, *cfg.Export.Spreadsheet)
	assert.Equal(t, "UTC", cfg.TimeZone)
	assert.Equal(t, "en", cfg.Language)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/armoryx.yaml")
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server:\n  addr: [unterminated\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeTempConfig(t, "sever:\n  addr: \":80\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeTempConfig(t, "server:\n  read_timeout: not-a-duration\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad time zone", func(c *Config) { c.TimeZone = "Mars/Olympus" }, "time_zone"},
		{"bad language", func(c *Config) { c.Language = "fr" }, "language"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log"},
		{"bad sample rate", func(c *Config) { c.OTEL.Traces.SampleRate = 1.5 }, "sample_rate"},
		{"user without name", func(c *Config) { c.Auth.Users = []User{{Token: "t"}} }, "username required"},
		{"user without secret", func(c *Config) { c.Auth.Users = []User{{Username: "ops"}} }, "token or a password"},
		{"duplicate user", func(c *Config) {
			c.Auth.Users = []User{{Username: "ops", Token: "a"}, {Username: "ops", Token: "b"}}
		}, "duplicate user"},
		{"shared token", func(c *Config) {
			c.Auth.Users = []User{{Username: "a", Token: "t"}, {Username: "b", Token: "t"}}
		}, "reuses a token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "armoryx.yaml")
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "armoryx.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Metrics.Enabled)
	assert.Len(t, cfg.Auth.Users, 2)
	assert.Equal(t, []string{"us-east-1"}, cfg.AWS.Regions)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", loc.String())
}
