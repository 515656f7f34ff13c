package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

type fakeCollection struct {
	filters      []any
	updates      []any
	replacements []any
	upserts      []bool
	pipelines    []any
	docs         []any
	err          error
	// updateErrs are returned by successive UpdateOne calls before err.
	updateErrs []error
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.filters = append(f.filters, filter)
	f.updates = append(f.updates, update)
	f.upserts = append(f.upserts, len(opts) > 0 && opts[0].Upsert != nil && *opts[0].Upsert)
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func (f *fakeCollection) ReplaceOne(_ context.Context, filter, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	f.filters = append(f.filters, filter)
	f.replacements = append(f.replacements, replacement)
	f.upserts = append(f.upserts, len(opts) > 0 && opts[0].Upsert != nil && *opts[0].Upsert)
	if f.err != nil {
		return nil, f.err
	}
	return &mongo.UpdateResult{ModifiedCount: 1}, nil
}

func (f *fakeCollection) Aggregate(_ context.Context, pipeline any, _ ...*options.AggregateOptions) (*mongo.Cursor, error) {
	f.pipelines = append(f.pipelines, pipeline)
	if f.err != nil {
		return nil, f.err
	}
	return mongo.NewCursorFromDocuments(f.docs, nil, nil)
}

func newTestStore(t *testing.T) (*CaseStore, *fakeCollection, *fakeCollection) {
	t.Helper()
	cases := &fakeCollection{}
	normalized := &fakeCollection{}
	store, err := NewWithCollections(cases, normalized)
	require.NoError(t, err)
	return store, cases, normalized
}

func TestCaseUpdateSetsScalarsAndUnionsCategories(t *testing.T) {
	t.Parallel()

	harvested := time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)
	update := caseUpdate(crawler.CaseRecord{
		RefNumber:       " ADJ-1 ",
		URL:             "https://example.com/a",
		PublishedDate:   "15/01/2025",
		PartitionDate:   "01/2025",
		Description:     "desc",
		StorageLocation: "storage://raw/files/01-2025/15-01-2025/ADJ-1",
		ContentHash:     "abc",
		AttachmentURLs:  crawler.NewStringSet("https://example.com/b.pdf", "https://example.com/a.pdf"),
		CategoryFilters: crawler.NewStringSet("Labour Court", "Equality Tribunal"),
		HarvestedAt:     harvested,
	})

	require.Equal(t, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "url", Value: "https://example.com/a"},
			{Key: "published_date", Value: "15/01/2025"},
			{Key: "partition_date", Value: "01/2025"},
			{Key: "description", Value: "desc"},
			{Key: "harvested_at", Value: harvested},
			{Key: "ref_number", Value: "ADJ-1"},
			{Key: "storage_location", Value: "storage://raw/files/01-2025/15-01-2025/ADJ-1"},
			{Key: "content_hash", Value: "abc"},
			{Key: "attachment_urls", Value: []string{"https://example.com/a.pdf", "https://example.com/b.pdf"}},
		}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "natural_key", Value: "ref_number:ADJ-1"}}},
		{Key: "$addToSet", Value: bson.D{
			{Key: "category_filters", Value: bson.D{{Key: "$each", Value: []string{"Equality Tribunal", "Labour Court"}}}},
		}},
	}, update)
}

func TestCaseUpdateOmitsEmptyStorageFields(t *testing.T) {
	t.Parallel()

	update := caseUpdate(crawler.CaseRecord{URL: "https://example.com/a", CategoryFilters: crawler.NewStringSet("Labour Court")})
	set, ok := update.Map()["$set"].(bson.D)
	require.True(t, ok)
	for _, elem := range set {
		require.NotContains(t, []string{"ref_number", "storage_location", "content_hash", "attachment_urls"}, elem.Key)
	}
	require.Equal(t, bson.D{
		{Key: "natural_key", Value: "url:https://example.com/a"},
		{Key: "attachment_urls", Value: bson.A{}},
	}, update.Map()["$setOnInsert"])
}

func TestUpsertCaseUsesNaturalKeyFilter(t *testing.T) {
	t.Parallel()

	store, cases, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertCase(ctx, crawler.CaseRecord{RefNumber: " ADJ-1 ", URL: "https://example.com/a"}))
	require.NoError(t, store.UpsertCase(ctx, crawler.CaseRecord{URL: "https://example.com/b"}))

	require.Equal(t, []any{
		bson.D{{Key: "ref_number", Value: "ADJ-1"}},
		bson.D{{Key: "url", Value: "https://example.com/b"}},
	}, cases.filters)
	require.Equal(t, []bool{true, true}, cases.upserts)
}

func TestUpsertCaseWrapsBackendErrors(t *testing.T) {
	t.Parallel()

	store, cases, _ := newTestStore(t)
	cases.err = errors.New("server selection timeout")
	err := store.UpsertCase(context.Background(), crawler.CaseRecord{RefNumber: "ADJ-1"})
	require.ErrorIs(t, err, crawler.ErrStorageBackend)
}

func duplicateKeyError() error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}}}
}

func TestUpsertCaseRetriesOnceAfterDuplicateKey(t *testing.T) {
	t.Parallel()

	store, cases, _ := newTestStore(t)
	cases.updateErrs = []error{duplicateKeyError()}
	rec := crawler.CaseRecord{URL: "https://example.com/no-ref"}
	require.NoError(t, store.UpsertCase(context.Background(), rec))

	filter := bson.D{{Key: "url", Value: "https://example.com/no-ref"}}
	require.Equal(t, []any{filter, filter}, cases.filters)
	require.Equal(t, []bool{true, true}, cases.upserts)
	require.Equal(t, cases.updates[0], cases.updates[1])
}

func TestUpsertCaseRepeatedDuplicateKeyIsBackendError(t *testing.T) {
	t.Parallel()

	store, cases, _ := newTestStore(t)
	cases.updateErrs = []error{duplicateKeyError(), duplicateKeyError()}
	err := store.UpsertCase(context.Background(), crawler.CaseRecord{URL: "https://example.com/no-ref"})
	require.ErrorIs(t, err, crawler.ErrStorageBackend)
	require.Len(t, cases.filters, 2)
}

func TestPublishedRangePipeline(t *testing.T) {
	t.Parallel()

	window := crawler.NewDateRange(
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	)
	pipeline := publishedRangePipeline(window)
	require.Len(t, pipeline, 4)

	addFields := pipeline[0].Map()["$addFields"].(bson.D).Map()["_published"].(bson.D).Map()["$dateFromString"].(bson.D).Map()
	require.Equal(t, "$published_date", addFields["dateString"])
	require.Equal(t, "%d/%m/%Y", addFields["format"])
	require.Contains(t, addFields, "onError")
	require.Nil(t, addFields["onError"])

	match := pipeline[1].Map()["$match"].(bson.D).Map()
	require.Equal(t, bson.D{{Key: "$gte", Value: window.Start}, {Key: "$lte", Value: window.End}}, match["_published"])
	require.Equal(t, bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: nil}}, match["storage_location"])
}

func TestCasesByPublishedDateDecodesDocuments(t *testing.T) {
	t.Parallel()

	store, cases, _ := newTestStore(t)
	cases.docs = []any{
		caseDocument{
			RefNumber:       "ADJ-1",
			URL:             "https://example.com/a",
			PublishedDate:   "15/01/2025",
			StorageLocation: "storage://raw/files/01-2025/15-01-2025/ADJ-1",
			CategoryFilters: []string{"Labour Court"},
		},
	}
	window := crawler.NewDateRange(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))

	got, err := store.CasesByPublishedDate(context.Background(), window)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "ADJ-1", got[0].RefNumber)
	require.True(t, got[0].CategoryFilters.Has("Labour Court"))
	require.Len(t, cases.pipelines, 1)
}

func TestUpsertNormalizedReplacesByRef(t *testing.T) {
	t.Parallel()

	store, _, normalized := newTestStore(t)
	rec := crawler.NormalizedRecord{RefNumber: "ADJ-1", Attachments: []string{"storage://processed/x/a.pdf"}}
	require.NoError(t, store.UpsertNormalized(context.Background(), rec))

	require.Equal(t, []any{bson.D{{Key: "ref_number", Value: "ADJ-1"}}}, normalized.filters)
	require.Equal(t, []bool{true}, normalized.upserts)
	doc, ok := normalized.replacements[0].(normalizedDocument)
	require.True(t, ok)
	require.Equal(t, []string{}, doc.CategoryFilters)
	require.Equal(t, rec.Attachments, doc.Attachments)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = New(context.Background(), Config{URI: "mongodb://localhost:27017"})
	require.Error(t, err)
	_, err = NewWithCollections(nil, nil)
	require.Error(t, err)
}
