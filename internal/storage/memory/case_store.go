package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

// CaseStore keeps case and normalized records in memory for development and
// tests.
type CaseStore struct {
	mu         sync.RWMutex
	cases      map[string]crawler.CaseRecord
	normalized map[string]crawler.NormalizedRecord
}

// NewCaseStore constructs an empty CaseStore.
func NewCaseStore() *CaseStore {
	return &CaseStore{
		cases:      make(map[string]crawler.CaseRecord),
		normalized: make(map[string]crawler.NormalizedRecord),
	}
}

// UpsertCase merges rec into the stored record with the same natural key.
func (s *CaseStore) UpsertCase(_ context.Context, rec crawler.CaseRecord) error {
	field, value := rec.NaturalKey()
	key := field + ":" + value

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.cases[key]
	if !ok {
		s.cases[key] = cloneCase(rec)
		return nil
	}
	s.cases[key] = mergeCase(existing, rec)
	return nil
}

// CasesByPublishedDate returns stored records published inside window that
// have a storage location, ordered by natural key.
func (s *CaseStore) CasesByPublishedDate(_ context.Context, window crawler.DateRange) ([]crawler.CaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.cases))
	for key := range s.cases {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []crawler.CaseRecord
	for _, key := range keys {
		rec := s.cases[key]
		if rec.StorageLocation == "" {
			continue
		}
		published, ok := crawler.ParsePublishedDate(rec.PublishedDate)
		if !ok || !window.Contains(published) {
			continue
		}
		out = append(out, cloneCase(rec))
	}
	return out, nil
}

// UpsertNormalized replaces the normalized record for rec.RefNumber.
func (s *CaseStore) UpsertNormalized(_ context.Context, rec crawler.NormalizedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.CategoryFilters = append([]string(nil), rec.CategoryFilters...)
	rec.Attachments = append([]string(nil), rec.Attachments...)
	s.normalized[rec.RefNumber] = rec
	return nil
}

// Case returns the stored record for a natural key.
func (s *CaseStore) Case(field, value string) (crawler.CaseRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cases[field+":"+value]
	return cloneCase(rec), ok
}

// Normalized returns the normalized record for ref.
func (s *CaseStore) Normalized(ref string) (crawler.NormalizedRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.normalized[ref]
	return rec, ok
}

// Len reports how many case records are stored.
func (s *CaseStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cases)
}

// mergeCase overwrites scalars with the incoming values and unions category
// filters. Empty storage fields never clear a stored value.
func mergeCase(existing, incoming crawler.CaseRecord) crawler.CaseRecord {
	merged := cloneCase(incoming)
	merged.CategoryFilters = existing.CategoryFilters.Union(incoming.CategoryFilters)
	if merged.StorageLocation == "" {
		merged.StorageLocation = existing.StorageLocation
	}
	if merged.ContentHash == "" {
		merged.ContentHash = existing.ContentHash
	}
	if merged.AttachmentURLs.Len() == 0 {
		merged.AttachmentURLs = existing.AttachmentURLs.Clone()
	}
	return merged
}

func cloneCase(rec crawler.CaseRecord) crawler.CaseRecord {
	rec.AttachmentURLs = rec.AttachmentURLs.Clone()
	rec.CategoryFilters = rec.CategoryFilters.Clone()
	return rec
}
