package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ObjectStore reads and writes raw artifacts in a single bucket.
type ObjectStore interface {
	// Bucket names the bucket the store writes to.
	Bucket() string
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes data and returns the object's location URI.
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// CaseStore persists harvested case metadata.
type CaseStore interface {
	// UpsertCase atomically merges rec into the stored record sharing its
	// natural key: scalar fields are overwritten, category filters unioned.
	UpsertCase(ctx context.Context, rec CaseRecord) error
	// CasesByPublishedDate returns stored records whose published date falls
	// inside window and that have a storage location.
	CasesByPublishedDate(ctx context.Context, window DateRange) ([]CaseRecord, error)
}

// NormalizedStore persists normalized records keyed by ref number.
type NormalizedStore interface {
	UpsertNormalized(ctx context.Context, rec NormalizedRecord) error
}

// Publisher pushes stage-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
