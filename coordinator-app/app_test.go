package main

import (
	"context"

	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/zksafe/coordinator-app/config"
)

// newOfflineApp wires the full app against an in-memory database. A fixed chain id keeps
// construction from contacting the node and the prover is only called per request.
func newOfflineApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Database.DataDir = ""
	cfg.Chain.ChainID = 31337

	app, err := NewApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.runShutdownFns(context.Background()) })
	return app
}

func TestAppServesOperationalEndpoints(t *testing.T) {
	app := newOfflineApp(t)
	h := app.apiServer.Handler()

	tests := []struct {
		path string
		code int
	}{
		{path: "/health", code: http.StatusOK},
		{path: "/ready", code: http.StatusOK},
		{path: "/metrics", code: http.StatusOK},
		{path: "/v1/unknown", code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestAppMountsDomainRoutes(t *testing.T) {
	app := newOfflineApp(t)
	h := app.apiServer.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proposals", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Empty(t, list)
}

func TestReadyReportsClosedDatabase(t *testing.T) {
	app := newOfflineApp(t)
	require.NoError(t, app.db.Close())

	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "database_unavailable")
}

func TestApplyFlagsOverridesConfig(t *testing.T) {
	initFlagsOnce(t)
	cfg := config.Default()

	require.NoError(t, rootCmd.PersistentFlags().Set("listen-addr", ":9999"))
	require.NoError(t, rootCmd.PersistentFlags().Set("db-driver", "postgres"))
	require.NoError(t, rootCmd.PersistentFlags().Set("log-level", "debug"))

	applyFlags(rootCmd, cfg)
	require.Equal(t, ":9999", cfg.API.ListenAddr)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, config.Default().Prover.BaseURL, cfg.Prover.BaseURL)
}

func initFlagsOnce(t *testing.T) {
	t.Helper()
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		initCommands()
	}
}
