package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-flow/internal/config"
	"options-flow/internal/storage/memory"
)

func TestHTTPServer_HealthAndMetrics(t *testing.T) {
	srv := newHTTPServer(":0")

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "options_flow_")
}

func TestOpenStores_Memory(t *testing.T) {
	st, err := openStores(context.Background(), config.StorageConfig{
		Trades:  config.BackendMemory,
		Buckets: config.BackendMemory,
	})
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &memory.TradeStore{}, st.trades)
	assert.IsType(t, &memory.BucketStore{}, st.buckets)
}

func TestQueryCmd_EmptyHeatmap(t *testing.T) {
	a := &app{cfg: config.Default(), logger: zerolog.Nop()}
	a.cfg.Storage = config.StorageConfig{Trades: config.BackendMemory, Buckets: config.BackendMemory}

	cmd := newQueryCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"heatmap", "--window", "2"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "[]\n", out.String())
}
