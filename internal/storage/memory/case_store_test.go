package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

func TestCaseStoreUnionsCategoriesAcrossUpserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCaseStore()
	first := crawler.CaseRecord{
		RefNumber:       "ADJ-1",
		URL:             "https://example.com/a",
		PublishedDate:   "15/01/2025",
		Description:     "first",
		StorageLocation: "storage://raw/files/01-2025/15-01-2025/ADJ-1",
		ContentHash:     "abc",
		CategoryFilters: crawler.NewStringSet("Labour Court"),
	}
	second := crawler.CaseRecord{
		RefNumber:       " ADJ-1 ",
		URL:             "https://example.com/a",
		PublishedDate:   "15/01/2025",
		Description:     "second",
		CategoryFilters: crawler.NewStringSet("Equality Tribunal"),
	}
	require.NoError(t, store.UpsertCase(ctx, first))
	require.NoError(t, store.UpsertCase(ctx, second))
	require.Equal(t, 1, store.Len())

	got, ok := store.Case(crawler.KeyRefNumber, "ADJ-1")
	require.True(t, ok)
	require.Equal(t, []string{"Equality Tribunal", "Labour Court"}, got.CategoryFilters.Sorted())
	require.Equal(t, "second", got.Description)
	require.Equal(t, first.StorageLocation, got.StorageLocation)
	require.Equal(t, "abc", got.ContentHash)
}

func TestCaseStoreFallsBackToURLKey(t *testing.T) {
	t.Parallel()

	store := NewCaseStore()
	require.NoError(t, store.UpsertCase(context.Background(), crawler.CaseRecord{URL: "https://example.com/x"}))
	_, ok := store.Case(crawler.KeyURL, "https://example.com/x")
	require.True(t, ok)
}

func TestCaseStoreConcurrentUpsertsKeepEveryCategory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCaseStore()
	var wg sync.WaitGroup
	for _, category := range crawler.AllCategories {
		wg.Add(1)
		go func(category crawler.Category) {
			defer wg.Done()
			rec := crawler.CaseRecord{RefNumber: "ADJ-7", CategoryFilters: crawler.NewStringSet(string(category))}
			assert.NoError(t, store.UpsertCase(ctx, rec))
		}(category)
	}
	wg.Wait()

	got, ok := store.Case(crawler.KeyRefNumber, "ADJ-7")
	require.True(t, ok)
	require.Equal(t, len(crawler.AllCategories), got.CategoryFilters.Len())
}

func TestCasesByPublishedDate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCaseStore()
	rows := []crawler.CaseRecord{
		{RefNumber: "IN-1", PublishedDate: "01/01/2025", StorageLocation: "storage://raw/a"},
		{RefNumber: "IN-2", PublishedDate: "31/01/2025", StorageLocation: "storage://raw/b"},
		{RefNumber: "OUT-DATE", PublishedDate: "01/02/2025", StorageLocation: "storage://raw/c"},
		{RefNumber: "OUT-NOLOC", PublishedDate: "10/01/2025"},
		{RefNumber: "OUT-BAD", PublishedDate: "January 10th", StorageLocation: "storage://raw/d"},
	}
	for _, rec := range rows {
		require.NoError(t, store.UpsertCase(ctx, rec))
	}

	window := crawler.NewDateRange(
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	)
	got, err := store.CasesByPublishedDate(ctx, window)
	require.NoError(t, err)
	refs := make([]string, 0, len(got))
	for _, rec := range got {
		refs = append(refs, rec.RefNumber)
	}
	require.Equal(t, []string{"IN-1", "IN-2"}, refs)
}

func TestUpsertNormalizedOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCaseStore()
	require.NoError(t, store.UpsertNormalized(ctx, crawler.NormalizedRecord{RefNumber: "ADJ-1", Attachments: []string{"a", "b"}}))
	require.NoError(t, store.UpsertNormalized(ctx, crawler.NormalizedRecord{RefNumber: "ADJ-1", Attachments: []string{"c"}}))

	got, ok := store.Normalized("ADJ-1")
	require.True(t, ok)
	require.Equal(t, []string{"c"}, got.Attachments)
}
