package cmd

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/MeKo-Tech/fastdet/internal/pipeline"
	"github.com/MeKo-Tech/fastdet/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand_InvalidPort(t *testing.T) {
	_, err := executeCommandAndCaptureOutput(t, "serve", "--port", "70000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port number: 70000")
}

func TestServeCommand_InvalidDecoderFlags(t *testing.T) {
	_, err := executeCommandAndCaptureOutput(t, "serve", "--nms-threshold=-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nms_threshold")
}

func TestServeCommand_MissingModel(t *testing.T) {
	_, err := executeCommandAndCaptureOutput(t, "serve", "--model", "/nonexistent/model.onnx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize server")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunServer_GracefulShutdown(t *testing.T) {
	detServer, err := server.NewServer(server.Config{PipelineConfig: pipeline.DefaultConfig()})
	require.NoError(t, err)

	addr := freeAddr(t)
	httpServer := &http.Server{Addr: addr, Handler: detServer.Handler(), ReadHeaderTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, httpServer, detServer, time.Second) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health") //nolint:noctx // health check in test
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunServer_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	detServer, err := server.NewServer(server.Config{PipelineConfig: pipeline.DefaultConfig()})
	require.NoError(t, err)
	httpServer := &http.Server{Addr: l.Addr().String(), ReadHeaderTimeout: time.Second}

	err = runServer(context.Background(), httpServer, detServer, time.Second)
	require.Error(t, err)
}
