package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/armoryx/internal/config"
	"github.com/yairfalse/armoryx/internal/detail"
	"github.com/yairfalse/armoryx/internal/export"
)

var (
	_ export.Recorder = (*Provider)(nil)
	_ detail.Recorder = (*Provider)(nil)
)

func disabledConfig() config.OTELConfig {
	return config.OTELConfig{
		ServiceName: "test-armoryx",
		Traces:      config.TracesConfig{Enabled: false},
		Metrics:     config.MetricsConfig{Enabled: false},
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig())
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	err = p.Shutdown(context.Background())
	require.NoError(t, err)
}

func TestNewProvider_WithEndpoint(t *testing.T) {
	cfg := config.OTELConfig{
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "test-armoryx",
		Traces:      config.TracesConfig{Enabled: true, SampleRate: 1.0},
		Metrics:     config.MetricsConfig{Enabled: true},
	}

	// exporters dial lazily, so setup succeeds without a collector
	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestProvider_StartSpan(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig())
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "test-operation")
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	span.End()
	_ = p.Shutdown(context.Background())
}

func TestProvider_MetricsExposedForScraping(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig())
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx := context.Background()
	p.RecordExport(ctx, "instances/instance", "json", 42, 150*time.Millisecond)
	p.RecordCellError(ctx, "instances/instance", "uptime")
	p.RecordDetailView(ctx, "vpc/vpc", http.StatusForbidden)
	p.RecordSync(ctx, "aws", "us-east-1", "instances/instance", 3, 1)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "armoryx_exports")
	assert.Contains(t, text, "armoryx_export_rows")
	assert.Contains(t, text, "armoryx_export_duration")
	assert.Contains(t, text, "armoryx_export_cell_errors")
	assert.Contains(t, text, "armoryx_detail_views")
	assert.Contains(t, text, "armoryx_sync_records")
	assert.Contains(t, text, `status="403"`)
	assert.Contains(t, text, `field="uptime"`)
}
