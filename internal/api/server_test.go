package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/giftscout-telemetry/internal/clock"
	"github.com/ignite/giftscout-telemetry/internal/config"
	"github.com/ignite/giftscout-telemetry/internal/engine"
)

func TestServerShutdownStopsListener(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	eng := engine.New(engine.Options{Clock: clock.NewManual(t0), SampleRate: 1, MemoryPollInterval: -1})
	t.Cleanup(func() { eng.Shutdown(context.Background()) })

	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, eng, nil, nil)
	assert.Equal(t, "127.0.0.1:0", srv.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after Shutdown")
	}
}
