package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/CourierSync/config"
	"github.com/BearBump/CourierSync/internal/app"
	"github.com/stretchr/testify/require"
)

func memoryServices(t *testing.T) *app.Services {
	t.Helper()
	cfg := &config.Config{CourierSync: config.CourierSyncConfig{StorageMode: config.StorageModeMemory}}
	in, err := app.Build(context.Background(), cfg, app.DefaultFactories())
	require.NoError(t, err)
	t.Cleanup(in.Close)
	return app.NewServices(cfg, in)
}

func TestRunCourierAPI_SwaggerAndHealth(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := courierAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: sw,
		jobTimeout:  time.Minute,
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runCourierAPI(ctx, opts, memoryServices(t).API()) }()

	addr := <-addrCh

	resp, err := http.Get("http://" + addr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"swagger"`)

	resp, err = http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// пустое тело: анализ резервов по пустому складу
	resp, err = http.Post("http://"+addr+"/v1/jobs/reserved-stock", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestRunCourierAPI_MissingSwagger(t *testing.T) {
	err := runCourierAPI(context.Background(), courierAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "nope.json"),
	}, memoryServices(t).API())
	require.ErrorContains(t, err, "swagger file not found")
}
