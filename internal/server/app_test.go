package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ytcrawler/internal/config"
)

func TestBuildInMemoryApp(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Archive.Backend = config.BackendMemory
	cfg.Schedule.Enabled = true

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	assert.NotNil(t, app.Worker())
	assert.NotNil(t, app.Channels())
	assert.NotNil(t, app.Quota())
	assert.NotNil(t, app.scheduler)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Nothing stored and no configured key.
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/quota", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	report, err := app.Worker().RunIncremental(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Channels)
}

func TestBuildFailsOnUnwritableArchive(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Archive.Backend = config.BackendLocal
	cfg.Archive.LocalDir = "\x00invalid"

	_, err = Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestBuildWithTracing(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Telemetry.Enabled = true

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, app.tracing)
	app.Close()
	assert.Nil(t, app.tracing)
}
