// Package mongo persists case metadata and normalized records in MongoDB.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

// Config controls the MongoDB connection and collection names.
type Config struct {
	URI                  string        `mapstructure:"uri"`
	Database             string        `mapstructure:"database"`
	CasesCollection      string        `mapstructure:"cases_collection"`
	NormalizedCollection string        `mapstructure:"normalized_collection"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
}

// keyNaturalKey holds "<field>:<value>" of the key a document was inserted
// under. It is written once, so a later merge by a different key never moves it.
const keyNaturalKey = "natural_key"

type collection interface {
	UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	ReplaceOne(ctx context.Context, filter, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	Aggregate(ctx context.Context, pipeline any, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

// CaseStore implements crawler.CaseStore and crawler.NormalizedStore.
type CaseStore struct {
	client     *mongo.Client
	cases      collection
	normalized collection
}

// New connects to MongoDB, verifies the connection and ensures indexes.
func New(ctx context.Context, cfg Config) (*CaseStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("metadata.mongo.uri is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("metadata.mongo.database is required")
	}
	if cfg.CasesCollection == "" {
		cfg.CasesCollection = "cases"
	}
	if cfg.NormalizedCollection == "" {
		cfg.NormalizedCollection = "cases_normalized"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	cases := db.Collection(cfg.CasesCollection)
	normalized := db.Collection(cfg.NormalizedCollection)
	if err := ensureIndexes(connectCtx, cases, normalized); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &CaseStore{client: client, cases: cases, normalized: normalized}, nil
}

// NewWithCollections builds a store over existing collections.
func NewWithCollections(cases, normalized collection) (*CaseStore, error) {
	if cases == nil || normalized == nil {
		return nil, fmt.Errorf("collections are required")
	}
	return &CaseStore{cases: cases, normalized: normalized}, nil
}

// Close disconnects the client when the store owns one.
func (s *CaseStore) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func ensureIndexes(ctx context.Context, cases, normalized *mongo.Collection) error {
	_, err := cases.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: crawler.KeyRefNumber, Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: crawler.KeyRefNumber, Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
		{
			Keys: bson.D{{Key: keyNaturalKey, Value: 1}},
			Options: options.Index().
				SetName("natural_key_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: keyNaturalKey, Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
		{Keys: bson.D{{Key: crawler.KeyURL, Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create case indexes: %w", err)
	}
	_, err = normalized.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: crawler.KeyRefNumber, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create normalized index: %w", err)
	}
	return nil
}

// UpsertCase merges rec into the document sharing its natural key in one
// atomic update. Two concurrent inserts of the same key race on the
// natural_key index; the loser retries once and lands on the winner's document.
func (s *CaseStore) UpsertCase(ctx context.Context, rec crawler.CaseRecord) error {
	field, value := rec.NaturalKey()
	filter := bson.D{{Key: field, Value: value}}
	update := caseUpdate(rec)
	_, err := s.cases.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		_, err = s.cases.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	}
	if err != nil {
		return crawler.StorageBackend("upsert case", err)
	}
	return nil
}

// CasesByPublishedDate returns records published inside window that have a
// storage location.
func (s *CaseStore) CasesByPublishedDate(ctx context.Context, window crawler.DateRange) ([]crawler.CaseRecord, error) {
	cursor, err := s.cases.Aggregate(ctx, publishedRangePipeline(window))
	if err != nil {
		return nil, crawler.StorageBackend("query cases", err)
	}
	var docs []caseDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, crawler.StorageBackend("decode cases", err)
	}
	out := make([]crawler.CaseRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.record())
	}
	return out, nil
}

// UpsertNormalized replaces the normalized document for rec.RefNumber.
func (s *CaseStore) UpsertNormalized(ctx context.Context, rec crawler.NormalizedRecord) error {
	filter := bson.D{{Key: crawler.KeyRefNumber, Value: rec.RefNumber}}
	_, err := s.normalized.ReplaceOne(ctx, filter, newNormalizedDocument(rec), options.Replace().SetUpsert(true))
	if err != nil {
		return crawler.StorageBackend("upsert normalized", err)
	}
	return nil
}

// caseUpdate sets the scalar fields and adds the record's categories to the
// stored set. Empty storage fields and attachments are left out so they never
// clear a stored value.
func caseUpdate(rec crawler.CaseRecord) bson.D {
	set := bson.D{
		{Key: crawler.KeyURL, Value: rec.URL},
		{Key: "published_date", Value: rec.PublishedDate},
		{Key: "partition_date", Value: rec.PartitionDate},
		{Key: "description", Value: rec.Description},
		{Key: "harvested_at", Value: rec.HarvestedAt},
	}
	if ref := strings.TrimSpace(rec.RefNumber); ref != "" {
		set = append(set, bson.E{Key: crawler.KeyRefNumber, Value: ref})
	}
	if rec.StorageLocation != "" {
		set = append(set, bson.E{Key: "storage_location", Value: rec.StorageLocation})
	}
	if rec.ContentHash != "" {
		set = append(set, bson.E{Key: "content_hash", Value: rec.ContentHash})
	}

	if rec.AttachmentURLs.Len() > 0 {
		set = append(set, bson.E{Key: "attachment_urls", Value: rec.AttachmentURLs.Sorted()})
	}

	field, value := rec.NaturalKey()
	onInsert := bson.D{{Key: keyNaturalKey, Value: field + ":" + value}}
	if rec.AttachmentURLs.Len() == 0 {
		onInsert = append(onInsert, bson.E{Key: "attachment_urls", Value: bson.A{}})
	}
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$setOnInsert", Value: onInsert},
	}
	update = append(update, bson.E{Key: "$addToSet", Value: bson.D{
		{Key: "category_filters", Value: bson.D{{Key: "$each", Value: rec.CategoryFilters.Sorted()}}},
	}})
	return update
}

// publishedRangePipeline parses the stored day/month/year string server side;
// unparsable dates become null and drop out of the range match.
func publishedRangePipeline(window crawler.DateRange) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$addFields", Value: bson.D{
			{Key: "_published", Value: bson.D{
				{Key: "$dateFromString", Value: bson.D{
					{Key: "dateString", Value: "$published_date"},
					{Key: "format", Value: "%d/%m/%Y"},
					{Key: "onError", Value: nil},
					{Key: "onNull", Value: nil},
				}},
			}},
		}}},
		{{Key: "$match", Value: bson.D{
			{Key: "_published", Value: bson.D{
				{Key: "$gte", Value: window.Start},
				{Key: "$lte", Value: window.End},
			}},
			{Key: "storage_location", Value: bson.D{
				{Key: "$exists", Value: true},
				{Key: "$ne", Value: nil},
			}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "_published", Value: 1},
			{Key: crawler.KeyRefNumber, Value: 1},
		}}},
		{{Key: "$project", Value: bson.D{{Key: "_published", Value: 0}}}},
	}
}
