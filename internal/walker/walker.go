// Package walker drives one search on the decisions site: it submits the
// search form for a category and month, follows the result pages and visits
// every listed decision to collect its attachment links.
package walker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

const (
	defaultMaxPages          = 500
	defaultDetailConcurrency = 4
)

// Selectors locate listing fields on a result page.
type Selectors struct {
	Listing     string
	Link        string
	RefNumber   string
	Date        string
	Description string
	NextPage    string
}

// DefaultSelectors returns the selectors for the decisions result page.
func DefaultSelectors() Selectors {
	return Selectors{
		Listing:     "li.each-item",
		Link:        "h2.title a",
		RefNumber:   "span.refNO",
		Date:        "span.date",
		Description: "p.description",
		NextPage:    "ul.pager li:last-child a",
	}
}

// Config describes the search form and result pages.
type Config struct {
	SearchURL         string
	FormID            string
	QueryField        string
	FromField         string
	ToField           string
	SubmitButton      string
	Selectors         Selectors
	Categories        crawler.CategorySelectors
	MaxPages          int
	DetailConcurrency int
}

// Job is one category and date partition to crawl.
type Job struct {
	Query     string
	Category  crawler.Category
	Partition crawler.DateRange
}

// EmitFunc receives each completed record. An error aborts the walk.
type EmitFunc func(ctx context.Context, rec crawler.CaseRecord) error

// AttachmentFinder extracts attachment links from a detail page.
type AttachmentFinder interface {
	Discover(body []byte, canonicalURL string) (crawler.StringSet, error)
}

// Stats summarizes one walk.
type Stats struct {
	Pages          int
	Listings       int
	Skipped        int
	Emitted        int
	DetailFailures int
}

// Walker crawls search results for one job at a time. It is safe for
// concurrent use.
type Walker struct {
	cfg        Config
	fetcher    crawler.Fetcher
	discoverer AttachmentFinder
	clock      crawler.Clock
	logger     *zap.Logger
}

// New builds a Walker.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	discoverer AttachmentFinder,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Walker, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if discoverer == nil {
		return nil, fmt.Errorf("attachment finder is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if strings.TrimSpace(cfg.SearchURL) == "" {
		return nil, fmt.Errorf("search url is required")
	}
	if cfg.FormID == "" || cfg.SubmitButton == "" {
		return nil, fmt.Errorf("form id and submit button are required")
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.Categories == nil {
		cfg.Categories = crawler.DefaultCategorySelectors()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = defaultDetailConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		cfg:        cfg,
		fetcher:    fetcher,
		discoverer: discoverer,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Walk submits the search for job, walks every result page and emits one
// record per listing. Emitted records carry attachment links when the detail
// page could be fetched. Form or paging breakage is an ErrUpstreamFormat.
func (w *Walker) Walk(ctx context.Context, job Job, emit EmitFunc) (Stats, error) {
	var stats Stats
	logger := w.logger.With(
		zap.String("category", job.Category.String()),
		zap.String("partition", job.Partition.String()))

	req, err := w.searchRequest(ctx, job)
	if err != nil {
		return stats, err
	}
	logger.Info("submitting search")
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return stats, fmt.Errorf("submit search: %w", err)
	}

	visited := map[string]bool{resp.URL: true}
	for {
		stats.Pages++
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			return stats, crawler.UpstreamFormatf("parse result page %s: %v", resp.URL, err)
		}

		records, skipped := w.parseListings(doc, resp.URL, job, logger)
		stats.Listings += len(records) + skipped
		stats.Skipped += skipped
		emitted, failures, err := w.visitDetails(ctx, records, emit, logger)
		stats.Emitted += emitted
		stats.DetailFailures += failures
		if err != nil {
			return stats, err
		}

		next := w.nextPage(doc, resp.URL)
		if next == "" {
			break
		}
		if visited[next] {
			logger.Warn("result pager points at a visited page, stopping", zap.String("url", next))
			break
		}
		if stats.Pages >= w.cfg.MaxPages {
			return stats, crawler.UpstreamFormatf("result pages exceed %d for %s", w.cfg.MaxPages, job.Partition)
		}
		visited[next] = true
		resp, err = w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: next, Method: http.MethodGet})
		if err != nil {
			return stats, fmt.Errorf("fetch result page %s: %w", next, err)
		}
	}

	logger.Info("partition walked",
		zap.Int("pages", stats.Pages),
		zap.Int("listings", stats.Listings),
		zap.Int("emitted", stats.Emitted),
		zap.Int("detail_failures", stats.DetailFailures))
	return stats, nil
}

func (w *Walker) searchRequest(ctx context.Context, job Job) (crawler.FetchRequest, error) {
	page, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: w.cfg.SearchURL, Method: http.MethodGet})
	if err != nil {
		return crawler.FetchRequest{}, fmt.Errorf("load search page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return crawler.FetchRequest{}, crawler.UpstreamFormatf("parse search page: %v", err)
	}
	pageURL := page.URL
	if pageURL == "" {
		pageURL = w.cfg.SearchURL
	}
	form, err := parseForm(doc, pageURL, w.cfg.FormID)
	if err != nil {
		return crawler.FetchRequest{}, err
	}
	clickValue, ok := hasSubmit(doc, w.cfg.FormID, w.cfg.SubmitButton)
	if !ok {
		return crawler.FetchRequest{}, crawler.UpstreamFormatf("submit button %q not found", w.cfg.SubmitButton)
	}

	// Only the job's own category selector may be submitted.
	for _, field := range w.cfg.Categories {
		form.values.Del(field.Name)
	}
	if job.Category != crawler.CategoryAll {
		field, ok := w.cfg.Categories[job.Category]
		if !ok {
			return crawler.FetchRequest{}, fmt.Errorf("no form field configured for category %q", job.Category)
		}
		form.values.Set(field.Name, field.Value)
	}
	form.values.Set(w.cfg.QueryField, job.Query)
	form.values.Set(w.cfg.FromField, job.Partition.FormStart())
	form.values.Set(w.cfg.ToField, job.Partition.FormEnd())
	form.values.Set(w.cfg.SubmitButton, clickValue)
	return form.request(), nil
}

func (w *Walker) parseListings(
	doc *goquery.Document,
	pageURL string,
	job Job,
	logger *zap.Logger,
) ([]crawler.CaseRecord, int) {
	base, _ := url.Parse(pageURL)
	sel := w.cfg.Selectors
	now := w.clock.Now()

	var (
		records []crawler.CaseRecord
		skipped int
	)
	doc.Find(sel.Listing).Each(func(i int, item *goquery.Selection) {
		ref := strings.TrimSpace(item.Find(sel.RefNumber).First().Text())
		href := strings.TrimSpace(item.Find(sel.Link).First().AttrOr("href", ""))
		if href == "" {
			skipped++
			logger.Warn("listing without a detail link skipped",
				zap.Int("position", i),
				zap.String("ref_number", ref),
				zap.String("page", pageURL))
			return
		}
		detailURL := href
		if base != nil {
			if u, err := base.Parse(href); err == nil {
				detailURL = u.String()
			}
		}
		records = append(records, crawler.CaseRecord{
			RefNumber:       ref,
			URL:             detailURL,
			PublishedDate:   strings.TrimSpace(item.Find(sel.Date).First().Text()),
			PartitionDate:   job.Partition.PartitionLabel(),
			Description:     strings.TrimSpace(item.Find(sel.Description).First().Text()),
			AttachmentURLs:  crawler.NewStringSet(),
			CategoryFilters: crawler.NewStringSet(string(job.Category)),
			HarvestedAt:     now,
		})
	})
	return records, skipped
}

func (w *Walker) nextPage(doc *goquery.Document, pageURL string) string {
	href := strings.TrimSpace(doc.Find(w.cfg.Selectors.NextPage).First().AttrOr("href", ""))
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	next, err := base.Parse(href)
	if err != nil {
		return ""
	}
	return next.String()
}

// visitDetails fetches detail pages with bounded concurrency and emits each
// record. Only emit errors stop the group.
func (w *Walker) visitDetails(
	ctx context.Context,
	records []crawler.CaseRecord,
	emit EmitFunc,
	logger *zap.Logger,
) (int, int, error) {
	var emitted, failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.DetailConcurrency)
	for _, rec := range records {
		g.Go(func() error {
			if !w.attachLinks(gctx, &rec, logger) {
				failures.Add(1)
			}
			if err := emit(gctx, rec); err != nil {
				field, key := rec.NaturalKey()
				return fmt.Errorf("emit %s=%s: %w", field, key, err)
			}
			emitted.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(emitted.Load()), int(failures.Load()), err
}

func (w *Walker) attachLinks(ctx context.Context, rec *crawler.CaseRecord, logger *zap.Logger) bool {
	field, key := rec.NaturalKey()
	resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rec.URL, Method: http.MethodGet})
	if err != nil {
		logger.Warn("detail page fetch failed, emitting without attachments",
			zap.String(field, key), zap.Error(err))
		return false
	}
	canonical := resp.URL
	if canonical == "" {
		canonical = rec.URL
	}
	links, err := w.discoverer.Discover(resp.Body, canonical)
	if err != nil {
		logger.Warn("attachment discovery failed", zap.String(field, key), zap.Error(err))
		return false
	}
	rec.AttachmentURLs = links
	return true
}
