package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRunStore()
	run := crawler.Run{
		ID:         "run-1",
		Stage:      crawler.StageHarvest,
		Status:     crawler.RunQueued,
		Categories: []crawler.Category{crawler.CategoryLabour},
		Submitted:  time.Unix(100, 0).UTC(),
	}
	require.NoError(t, store.CreateRun(ctx, run))
	require.Error(t, store.CreateRun(ctx, run))
	require.Error(t, store.CreateRun(ctx, crawler.Run{}))

	run.Categories[0] = crawler.CategoryWRC
	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, []crawler.Category{crawler.CategoryLabour}, got.Categories)

	got.Status = crawler.RunRunning
	require.NoError(t, store.UpdateRun(ctx, got))
	got.Status = crawler.RunSucceeded
	require.NoError(t, store.UpdateRun(ctx, got))

	got.Status = crawler.RunRunning
	require.Error(t, store.UpdateRun(ctx, got), "finished runs stay finished")

	_, err = store.GetRun(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrRunNotFound)
	require.ErrorIs(t, store.UpdateRun(ctx, crawler.Run{ID: "missing"}), crawler.ErrRunNotFound)
}
