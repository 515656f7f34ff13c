// Package normalize rebuilds stored case records into a processed bucket:
// HTML is stripped of page chrome, every object is re-uploaded and the
// normalized record replaces any previous one for the same ref number.
package normalize

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
	"github.com/JakeFAU/wrc-harvester/internal/metrics"
)

const htmlContentType = "text/html; charset=utf-8"

// Config tunes the normalizer.
type Config struct {
	Concurrency     int
	ContentSelector string
}

// Summary counts what a run did.
type Summary struct {
	Records        int `json:"records"`
	Normalized     int `json:"normalized"`
	Skipped        int `json:"skipped"`
	ObjectFailures int `json:"object_failures"`
}

// Normalizer runs the normalize stage over a date window.
type Normalizer struct {
	cases   crawler.CaseStore
	output  crawler.NormalizedStore
	source  crawler.ObjectStore
	target  crawler.ObjectStore
	hasher  crawler.Hasher
	clock   crawler.Clock
	cleaner *Cleaner
	cfg     Config
	logger  *zap.Logger
}

// Deps groups the collaborators of a Normalizer.
type Deps struct {
	Cases  crawler.CaseStore
	Output crawler.NormalizedStore
	Source crawler.ObjectStore
	Target crawler.ObjectStore
	Hasher crawler.Hasher
	Clock  crawler.Clock
	Logger *zap.Logger
}

// New wires a Normalizer.
func New(deps Deps, cfg Config) (*Normalizer, error) {
	switch {
	case deps.Cases == nil:
		return nil, errors.New("case store is required")
	case deps.Output == nil:
		return nil, errors.New("normalized store is required")
	case deps.Source == nil || deps.Target == nil:
		return nil, errors.New("source and target object stores are required")
	case deps.Hasher == nil:
		return nil, errors.New("hasher is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		cases:   deps.Cases,
		output:  deps.Output,
		source:  deps.Source,
		target:  deps.Target,
		hasher:  deps.Hasher,
		clock:   deps.Clock,
		cleaner: NewCleaner(cfg.ContentSelector),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run normalizes every stored record published inside window. Storage
// backend failures abort the run; per-object failures are logged and skipped.
func (n *Normalizer) Run(ctx context.Context, window crawler.DateRange) (Summary, error) {
	records, err := n.cases.CasesByPublishedDate(ctx, window)
	if err != nil {
		return Summary{}, err
	}
	n.logger.Info("normalizing records", zap.Stringer("window", window), zap.Int("records", len(records)))

	var (
		mu      sync.Mutex
		summary = Summary{Records: len(records)}
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(n.cfg.Concurrency)
	for _, rec := range records {
		group.Go(func() error {
			ok, failures, err := n.normalizeRecord(groupCtx, rec)
			mu.Lock()
			defer mu.Unlock()
			summary.ObjectFailures += failures
			if ok {
				summary.Normalized++
			} else if err == nil {
				summary.Skipped++
			}
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return summary, err
	}
	n.logger.Info("normalize finished",
		zap.Int("normalized", summary.Normalized),
		zap.Int("skipped", summary.Skipped),
		zap.Int("object_failures", summary.ObjectFailures),
	)
	return summary, nil
}

func (n *Normalizer) normalizeRecord(ctx context.Context, rec crawler.CaseRecord) (bool, int, error) {
	ref := strings.TrimSpace(rec.RefNumber)
	logger := n.logger.With(zap.String("ref_number", ref), zap.String("url", rec.URL))
	if ref == "" || rec.StorageLocation == "" {
		metrics.ObserveNormalized("skipped")
		logger.Warn("skipping record without ref number or storage location")
		return false, 0, nil
	}
	bucket, sourcePrefix, err := crawler.ParseLocation(rec.StorageLocation)
	if err != nil || bucket != n.source.Bucket() {
		metrics.ObserveNormalized("skipped")
		logger.Warn("skipping record with foreign storage location",
			zap.String("storage_location", rec.StorageLocation),
			zap.Error(err),
		)
		return false, 0, nil
	}

	keys, err := n.source.List(ctx, sourcePrefix)
	if err != nil {
		return false, 0, crawler.StorageBackend("list source objects", err)
	}
	if len(keys) == 0 {
		metrics.ObserveNormalized("skipped")
		logger.Warn("no objects under storage location", zap.String("storage_location", rec.StorageLocation))
		return false, 0, nil
	}

	folder := crawler.RecordFolder(ref)
	targetPrefix := crawler.ObjectPrefix(rec.PartitionDate, rec.PublishedDate, folder)
	out := crawler.NormalizedRecord{
		RefNumber:       ref,
		URL:             rec.URL,
		PublishedDate:   rec.PublishedDate,
		PartitionDate:   rec.PartitionDate,
		Description:     rec.Description,
		CategoryFilters: rec.CategoryFilters.Sorted(),
		StorageLocation: crawler.Location(n.target.Bucket(), targetPrefix),
		Attachments:     []string{},
		HarvestedAt:     rec.HarvestedAt,
	}

	failures := 0
	for _, key := range keys {
		name := path.Base(key)
		data, contentType, err := n.transform(ctx, key, name)
		if err != nil {
			if ctx.Err() != nil {
				return false, failures, ctx.Err()
			}
			failures++
			metrics.ObserveNormalized("object_failed")
			logger.Warn("failed to read object; skipping", zap.String("key", key), zap.Error(err))
			continue
		}
		uri, err := n.target.Put(ctx, targetPrefix+name, contentType, data)
		if err != nil {
			if ctx.Err() != nil {
				return false, failures, ctx.Err()
			}
			failures++
			metrics.ObserveNormalized("object_failed")
			logger.Warn("failed to upload object; skipping", zap.String("key", targetPrefix+name), zap.Error(err))
			continue
		}
		if isPrimary(name, folder) {
			hash, err := n.hasher.Hash(data)
			if err != nil {
				return false, failures, err
			}
			out.ContentHash = hash
			continue
		}
		out.Attachments = append(out.Attachments, uri)
	}

	out.ProcessedAt = n.clock.Now()
	if err := n.output.UpsertNormalized(ctx, out); err != nil {
		return false, failures, err
	}
	metrics.ObserveNormalized("normalized")
	logger.Debug("normalized record", zap.Int("attachments", len(out.Attachments)))
	return true, failures, nil
}

// isPrimary reports whether name is the record's primary document, which is
// stored as <folder><ext>.
func isPrimary(name, folder string) bool {
	return strings.TrimSuffix(name, path.Ext(name)) == folder
}

// transform reads an object and cleans it when it is HTML.
func (n *Normalizer) transform(ctx context.Context, key, name string) ([]byte, string, error) {
	data, err := n.source.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	ext := strings.ToLower(path.Ext(name))
	if ext != ".html" && ext != ".htm" {
		contentType := mime.TypeByExtension(ext)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return data, contentType, nil
	}
	cleaned, err := n.cleaner.Clean(data)
	if err != nil {
		return nil, "", err
	}
	return cleaned, htmlContentType, nil
}
