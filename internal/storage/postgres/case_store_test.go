package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

func newMockStore(t *testing.T) (*CaseStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)
	return store, mock
}

func TestUpsertCaseMergesOnNaturalKey(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	harvested := time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)
	rec := crawler.CaseRecord{
		RefNumber:       " ADJ-1 ",
		URL:             "https://example.com/a",
		PublishedDate:   "15/01/2025",
		PartitionDate:   "01/2025",
		Description:     "desc",
		StorageLocation: "storage://raw/files/01-2025/15-01-2025/ADJ-1",
		ContentHash:     "abc",
		AttachmentURLs:  crawler.NewStringSet("https://example.com/b.pdf"),
		CategoryFilters: crawler.NewStringSet("Labour Court", "Equality Tribunal"),
		HarvestedAt:     harvested,
	}

	mock.ExpectExec(`INSERT INTO cases .* ON CONFLICT \(natural_key\) DO UPDATE SET .*category_filters = ARRAY\(`).
		WithArgs(
			"ref_number:ADJ-1",
			"ADJ-1",
			rec.URL,
			rec.PublishedDate,
			rec.PartitionDate,
			rec.Description,
			rec.StorageLocation,
			rec.ContentHash,
			[]string{"https://example.com/b.pdf"},
			[]string{"Equality Tribunal", "Labour Court"},
			harvested,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertCase(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCaseWithoutRefUsesURLKey(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := crawler.CaseRecord{URL: "https://example.com/x"}

	mock.ExpectExec("INSERT INTO cases").
		WithArgs(
			"url:https://example.com/x",
			"",
			rec.URL,
			"",
			"",
			"",
			"",
			"",
			[]string{},
			[]string{},
			time.Time{},
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertCase(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCaseWrapsBackendErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO cases").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := store.UpsertCase(context.Background(), crawler.CaseRecord{RefNumber: "ADJ-1"})
	require.ErrorIs(t, err, crawler.ErrStorageBackend)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCasesByPublishedDateFiltersInRange(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	harvested := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	columns := []string{
		"ref_number", "url", "published_date", "partition_date", "description",
		"storage_location", "content_hash", "attachment_urls", "category_filters", "harvested_at",
	}
	rows := mock.NewRows(columns).
		AddRow("ADJ-1", "https://example.com/1", "01/01/2025", "01/2025", "", "storage://raw/1", "h1",
			[]string{"https://example.com/1.pdf"}, []string{"Labour Court"}, harvested).
		AddRow("ADJ-2", "https://example.com/2", "01/02/2025", "02/2025", "", "storage://raw/2", "",
			[]string{}, []string{"Labour Court"}, harvested).
		AddRow("ADJ-3", "https://example.com/3", "not a date", "01/2025", "", "storage://raw/3", "",
			[]string{}, []string{}, harvested).
		AddRow("ADJ-4", "https://example.com/4", "31/01/2025", "01/2025", "", "storage://raw/4", "",
			[]string{}, []string{"Equality Tribunal"}, harvested)
	mock.ExpectQuery(`SELECT .* FROM cases\s+WHERE storage_location IS NOT NULL`).WillReturnRows(rows)

	window := crawler.NewDateRange(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	got, err := store.CasesByPublishedDate(context.Background(), window)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "ADJ-1", got[0].RefNumber)
	require.True(t, got[0].AttachmentURLs.Has("https://example.com/1.pdf"))
	require.Equal(t, "ADJ-4", got[1].RefNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertNormalizedOverwritesByRef(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	processed := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	rec := crawler.NormalizedRecord{
		RefNumber:       "ADJ-1",
		URL:             "https://example.com/a",
		PublishedDate:   "15/01/2025",
		PartitionDate:   "01/2025",
		StorageLocation: "storage://processed/files/01-2025/15-01-2025/ADJ-1",
		ContentHash:     "def",
		Attachments:     []string{"storage://processed/files/01-2025/15-01-2025/ADJ-1/a.pdf"},
		ProcessedAt:     processed,
	}

	mock.ExpectExec(`INSERT INTO cases_normalized .* ON CONFLICT \(ref_number\) DO UPDATE SET`).
		WithArgs(
			rec.RefNumber,
			rec.URL,
			rec.PublishedDate,
			rec.PartitionDate,
			rec.Description,
			[]string{},
			rec.StorageLocation,
			rec.ContentHash,
			rec.Attachments,
			rec.HarvestedAt,
			processed,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertNormalized(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cases").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, "", "")
	require.Error(t, err)
	_, err = NewWithPool(mock, "cases; DROP TABLE x", "")
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}
