package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wrc-harvester/internal/config"
	"github.com/JakeFAU/wrc-harvester/internal/crawler"
	"github.com/JakeFAU/wrc-harvester/internal/stage"
	localstore "github.com/JakeFAU/wrc-harvester/internal/storage/local"
	memstore "github.com/JakeFAU/wrc-harvester/internal/storage/memory"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = config.BackendMemory
	cfg.Metadata.Backend = config.BackendMemory
	cfg.PubSub.Enabled = false
	return cfg
}

func TestBuildWithMemoryBackends(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), memoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.IsType(t, &memstore.BlobStore{}, a.raw)
	assert.Equal(t, "wrc-raw", a.raw.Bucket())
	assert.Equal(t, "wrc-processed", a.processed.Bucket())
	assert.IsType(t, &memstore.CaseStore{}, a.metadata)
	require.NotNil(t, a.Runner())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildWithLocalStorage(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.LocalDir = t.TempDir()

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	assert.IsType(t, &localstore.BlobStore{}, a.raw)
	assert.IsType(t, &localstore.BlobStore{}, a.processed)
}

func TestNormalizeRunOnEmptyStoreSucceeds(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), memoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	from := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	run, err := a.Runner().Run(context.Background(), stage.Request{
		Stage: crawler.StageNormalize,
		From:  from,
		To:    from.AddDate(0, 1, -1),
	})
	require.NoError(t, err)
	assert.Equal(t, crawler.RunSucceeded, run.Status)

	stored, err := a.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.RunSucceeded, stored.Status)
	assert.NotNil(t, stored.Finished)
}

func TestBuildWithPubSubEmulator(t *testing.T) {
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)

	cfg := memoryConfig(t)
	cfg.PubSub.Enabled = true
	cfg.PubSub.ProjectID = "wrc-test"

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, a.publisher)
	require.NoError(t, a.Close(context.Background()))
}

func TestBuildRejectsBadCategoryTable(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig(t)
	cfg.Source.Categories = nil
	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.NoError(t, a.Close(context.Background()))
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig(t)
	cfg.Server.Port = 0
	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
