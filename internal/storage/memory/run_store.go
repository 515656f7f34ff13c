package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

// RunStore keeps stage runs in memory. Runs do not survive a restart.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawler.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]crawler.Run)}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// UpdateRun replaces a known run. Terminal runs are not reopened.
func (s *RunStore) UpdateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("update %s: %w", run.ID, crawler.ErrRunNotFound)
	}
	if current.Status.Terminal() && !run.Status.Terminal() {
		return fmt.Errorf("run %s already %s", run.ID, current.Status)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return crawler.Run{}, fmt.Errorf("get %s: %w", id, crawler.ErrRunNotFound)
	}
	return cloneRun(run), nil
}

func cloneRun(run crawler.Run) crawler.Run {
	run.Categories = append([]crawler.Category(nil), run.Categories...)
	return run
}
