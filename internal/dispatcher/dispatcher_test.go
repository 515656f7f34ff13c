package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
	"github.com/JakeFAU/wrc-harvester/internal/queue/memory"
)

type recordingExecutor struct {
	mu   sync.Mutex
	seen []string
	done chan struct{}
}

func (e *recordingExecutor) Execute(_ context.Context, run crawler.Run) (crawler.Run, error) {
	e.mu.Lock()
	e.seen = append(e.seen, run.ID)
	e.mu.Unlock()
	e.done <- struct{}{}
	run.Status = crawler.RunSucceeded
	if run.ID == "run-bad" {
		return run, errors.New("stage failed")
	}
	return run, nil
}

func (e *recordingExecutor) ids() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

func TestDispatcherExecutesQueuedRuns(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	exec := &recordingExecutor{done: make(chan struct{}, 4)}
	dispatch := New(q, exec, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(stopped)
	}()

	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.Run{ID: "run-bad"}))
	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.Run{ID: "run-good"}))
	for i := 0; i < 2; i++ {
		select {
		case <-exec.done:
		case <-time.After(time.Second):
			t.Fatal("run was not executed")
		}
	}
	require.ElementsMatch(t, []string{"run-bad", "run-good"}, exec.ids())

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	dispatch := New(q, &recordingExecutor{done: make(chan struct{}, 1)}, 1, nil)
	q.Close()

	stopped := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after queue close")
	}
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, 1, nil)

	err := dispatch.Enqueue(context.Background(), crawler.Run{ID: "run"})
	require.EqualError(t, err, "queue enqueue: boom")
	require.Error(t, dispatch.Enqueue(context.Background(), crawler.Run{}))
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.Run) error {
	return q.err
}

func (q *errorQueue) Dequeue(ctx context.Context) (crawler.Run, error) {
	<-ctx.Done()
	return crawler.Run{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
}
