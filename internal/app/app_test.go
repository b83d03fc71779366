// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-pipeline/internal/app"
	"github.com/JakeFAU/crawl-pipeline/internal/config"
	"github.com/JakeFAU/crawl-pipeline/internal/handlers/fetch"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

func baseConfig() config.Config {
	return config.Config{
		Store:    config.StoreConfig{Backend: config.StoreMemory, KeyPrefix: "test"},
		Worker:   config.WorkerConfig{Threads: 1, IdleSleep: time.Second, FaultBackoff: time.Minute, HostIP: "10.0.0.9"},
		Registry: config.RegistryConfig{Backend: config.RegistryStore},
		Fetch:    config.FetchConfig{TimeoutSeconds: 5, Blob: config.BlobConfig{Backend: config.BlobMemory, Prefix: "pages"}},
	}
}

func TestNewWithMemoryBackends(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	env := a.Env()
	assert.Equal(t, "10.0.0.9", env.HostIP)
	assert.Equal(t, "10.0.0.9", a.ThreadPrefix())
	require.NotNil(t, env.Pending)
	require.NotNil(t, env.Handler)

	reg, ok := env.Handler.(*task.Registry)
	require.True(t, ok)
	assert.Equal(t, []string{fetch.FuncName}, reg.Names())

	ctx := context.Background()
	require.NoError(t, a.Instances().Start(ctx, "wiki", time.Now()))
	ids, err := env.Registry.RunningIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wiki"}, ids)
}

func TestNewWithRedisAndLocalBlobs(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.Store = config.StoreConfig{Backend: config.StoreRedis, Addr: mr.Addr(), KeyPrefix: "test"}
	cfg.Registry = config.RegistryConfig{Backend: config.RegistryStatic, IDs: []string{"a", "b"}}
	cfg.Fetch.Blob = config.BlobConfig{Backend: config.BlobLocal, BaseDir: filepath.Join(t.TempDir(), "pages")}
	cfg.Worker.ThreadPrefix = "box"

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Equal(t, "box", a.ThreadPrefix())
	require.NoError(t, a.Env().Store.Ping(context.Background()))
	ids, err := a.Env().Registry.RunningIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg := baseConfig()
	cfg.Store = config.StoreConfig{Backend: config.StoreRedis, Addr: addr}
	_, err = app.New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "open redis store")
}

func TestNewRejectsUnknownRegistry(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Registry.Backend = "zookeeper"
	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown registry backend")
}
