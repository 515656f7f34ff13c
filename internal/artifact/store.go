// Package artifact downloads a record's documents into object storage under a
// per-record prefix, skipping records that are already stored.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
	"github.com/JakeFAU/wrc-harvester/internal/digest"
	"github.com/JakeFAU/wrc-harvester/internal/metrics"
)

const (
	defaultExtension   = ".html"
	defaultContentType = "application/octet-stream"
	attachmentPrefix   = "attachment_"
	urlFolderPrefix    = "url-"
)

// Config tunes the artifact store.
type Config struct {
	AttachmentConcurrency int
}

// Store implements the idempotent download-and-store step of a harvest.
type Store struct {
	fetcher crawler.Fetcher
	objects crawler.ObjectStore
	hasher  crawler.Hasher
	cfg     Config
	logger  *zap.Logger
}

// New wires a Store.
func New(fetcher crawler.Fetcher, objects crawler.ObjectStore, hasher crawler.Hasher, cfg Config, logger *zap.Logger) (*Store, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if objects == nil {
		return nil, errors.New("object store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if cfg.AttachmentConcurrency <= 0 {
		cfg.AttachmentConcurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{fetcher: fetcher, objects: objects, hasher: hasher, cfg: cfg, logger: logger}, nil
}

// Process stores rec's primary document and attachments and returns the
// record with StorageLocation and ContentHash filled in. When the primary
// object already exists nothing is fetched or written.
func (s *Store) Process(ctx context.Context, rec crawler.CaseRecord) (crawler.CaseRecord, error) {
	prefix := crawler.ObjectPrefix(rec.PartitionDate, rec.PublishedDate, s.folder(rec))
	primaryKey := prefix + path.Base(prefix) + extension(rec.URL)
	location := crawler.Location(s.objects.Bucket(), prefix)
	logger := s.logger.With(zap.String("url", rec.URL), zap.String("prefix", prefix))

	exists, err := s.objects.Exists(ctx, primaryKey)
	if err != nil {
		return rec, crawler.StorageBackend("check primary object", err)
	}
	if exists {
		metrics.ObserveArtifact("existing")
		logger.Debug("primary object already stored; skipping record")
		rec.StorageLocation = location
		return rec, nil
	}

	var stored atomic.Int64
	hash, ok, err := s.storePrimary(ctx, rec.URL, primaryKey, logger)
	if err != nil {
		return rec, err
	}
	if ok {
		stored.Add(1)
		rec.ContentHash = hash
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.AttachmentConcurrency)
	for _, attachmentURL := range rec.AttachmentURLs.Sorted() {
		group.Go(func() error {
			ok, err := s.storeAttachment(groupCtx, attachmentURL, prefix, logger)
			if ok {
				stored.Add(1)
			}
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return rec, err
	}

	if stored.Load() > 0 {
		rec.StorageLocation = location
	} else {
		logger.Warn("no objects stored for record")
	}
	return rec, nil
}

// folder names the record's directory: the path-safe ref number, or a digest
// of the URL when the record has none.
func (s *Store) folder(rec crawler.CaseRecord) string {
	if folder := crawler.RecordFolder(rec.RefNumber); folder != "" {
		return folder
	}
	folder := urlFolderPrefix + digest.Name(rec.URL)[:16]
	s.logger.Warn("record has no ref number; storing under url digest",
		zap.String("url", rec.URL),
		zap.String("folder", folder),
	)
	return folder
}

func (s *Store) storePrimary(ctx context.Context, rawURL, key string, logger *zap.Logger) (string, bool, error) {
	resp, ok, err := s.fetch(ctx, rawURL, logger)
	if err != nil || !ok {
		return "", false, err
	}
	if _, err := s.objects.Put(ctx, key, contentType(resp), resp.Body); err != nil {
		return "", false, crawler.StorageBackend("put primary object", err)
	}
	metrics.ObserveArtifact("stored")
	hash, err := s.hasher.Hash(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("hash primary object: %w", err)
	}
	logger.Debug("stored primary object", zap.String("key", key), zap.Int("bytes", len(resp.Body)))
	return hash, true, nil
}

func (s *Store) storeAttachment(ctx context.Context, rawURL, prefix string, logger *zap.Logger) (bool, error) {
	name := attachmentName(rawURL)
	if strings.HasPrefix(name, attachmentPrefix) {
		logger.Warn("attachment url has no file name; using digest name",
			zap.String("attachment", rawURL),
			zap.String("name", name),
		)
	}
	resp, ok, err := s.fetch(ctx, rawURL, logger)
	if err != nil || !ok {
		return false, err
	}
	if _, err := s.objects.Put(ctx, prefix+name, contentType(resp), resp.Body); err != nil {
		return false, crawler.StorageBackend("put attachment", err)
	}
	metrics.ObserveArtifact("stored")
	return true, nil
}

// fetch reports ok=false for fetch failures, which are logged and skipped.
// Only cancellation of ctx is returned as an error.
func (s *Store) fetch(ctx context.Context, rawURL string, logger *zap.Logger) (crawler.FetchResponse, bool, error) {
	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL})
	if err == nil {
		return resp, true, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return crawler.FetchResponse{}, false, ctxErr
	}
	metrics.ObserveArtifact("fetch_failed")
	logger.Warn("fetch failed; skipping object", zap.String("target", rawURL), zap.Error(err))
	return crawler.FetchResponse{}, false, nil
}

// extension returns the file extension of the URL path, or .html.
func extension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultExtension
	}
	ext := path.Ext(u.Path)
	if ext == "" || ext == "." || strings.ContainsAny(ext, " /") {
		return defaultExtension
	}
	return strings.ToLower(ext)
}

// attachmentName derives an object name from the URL basename, falling back
// to a digest of the whole URL.
func attachmentName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && !strings.HasSuffix(u.Path, "/") {
		base := path.Base(u.Path)
		if base != "" && base != "." && base != "/" {
			return base
		}
	}
	return attachmentPrefix + digest.Name(rawURL)
}

func contentType(resp crawler.FetchResponse) string {
	if resp.ContentType != "" {
		return resp.ContentType
	}
	return defaultContentType
}
