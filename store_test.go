package process

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedExecution(id string, status ExecutionStatus, startedAt time.Time) *Execution {
	execution := &Execution{
		ID:        id,
		ProcessID: "proc",
		Status:    status,
		Payload:   map[string]any{"k": "v"},
		StartedAt: startedAt,
	}
	if status.IsTerminal() {
		execution.CompletedAt = startedAt.Add(time.Second)
	}
	return execution
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()

	execution := storedExecution("e1", ExecutionStatusRunning, time.Now())
	require.NoError(t, store.Save(ctx, execution))

	got, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, ExecutionStatusRunning, got.Status)

	// Snapshots are isolated from caller mutation.
	got.Payload["k"] = "mutated"
	again, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Payload["k"])
}

func TestMemoryStoreSaveValidation(t *testing.T) {
	store := NewMemoryExecutionStore()

	assert.Error(t, store.Save(context.Background(), nil))
	assert.Error(t, store.Save(context.Background(), &Execution{}))
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	store := NewMemoryExecutionStore()

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, storedExecution("e1", ExecutionStatusRunning, time.Now())))

	require.NoError(t, store.Update(ctx, "e1", func(execution *Execution) error {
		execution.StepsCompleted = 3
		return nil
	}))

	got, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.StepsCompleted)

	err = store.Update(ctx, "missing", func(*Execution) error { return nil })
	assert.True(t, IsNotFoundError(err))
}

func TestMemoryStoreCancel(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, storedExecution("running", ExecutionStatusRunning, time.Now())))
	require.NoError(t, store.Save(ctx, storedExecution("done", ExecutionStatusCompleted, time.Now())))

	cancelled, err := store.Cancel(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.CompletedAt.IsZero())

	// Cancelling a terminal execution fails and mutates nothing.
	_, err = store.Cancel(ctx, "done")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")
	got, err := store.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, got.Status)

	_, err = store.Cancel(ctx, "missing")
	assert.True(t, IsNotFoundError(err))
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Save(ctx, storedExecution("old", ExecutionStatusCompleted, base.Add(-2*time.Hour))))
	require.NoError(t, store.Save(ctx, storedExecution("new", ExecutionStatusRunning, base)))
	require.NoError(t, store.Save(ctx, storedExecution("mid", ExecutionStatusFailed, base.Add(-time.Hour))))

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, "new", summaries[0].ExecutionID)
	assert.Equal(t, "mid", summaries[1].ExecutionID)
	assert.Equal(t, "old", summaries[2].ExecutionID)
}

func TestMemoryStoreTTLEviction(t *testing.T) {
	store := NewMemoryExecutionStoreWithOptions(MemoryStoreOptions{TTL: time.Hour})
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	stale := storedExecution("stale", ExecutionStatusCompleted, now.Add(-3*time.Hour))
	stale.CompletedAt = now.Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, stale))

	staleRunning := storedExecution("stale-running", ExecutionStatusRunning, now.Add(-3*time.Hour))
	require.NoError(t, store.Save(ctx, staleRunning))

	// The next write triggers eviction of expired terminal executions.
	require.NoError(t, store.Save(ctx, storedExecution("fresh", ExecutionStatusCompleted, now)))

	_, err := store.Get(ctx, "stale")
	assert.True(t, IsNotFoundError(err))

	// Running executions are never evicted, no matter how old.
	_, err = store.Get(ctx, "stale-running")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMemoryStoreCapacityEviction(t *testing.T) {
	store := NewMemoryExecutionStoreWithOptions(MemoryStoreOptions{MaxEntries: 2})
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Save(ctx, storedExecution("oldest", ExecutionStatusCompleted, base.Add(-3*time.Hour))))
	require.NoError(t, store.Save(ctx, storedExecution("older", ExecutionStatusCompleted, base.Add(-2*time.Hour))))
	require.NoError(t, store.Save(ctx, storedExecution("newest", ExecutionStatusCompleted, base)))

	_, err := store.Get(ctx, "oldest")
	assert.True(t, IsNotFoundError(err))
	_, err = store.Get(ctx, "older")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "newest")
	assert.NoError(t, err)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("e%d", n)
			_ = store.Save(ctx, storedExecution(id, ExecutionStatusRunning, time.Now()))
			_, _ = store.Get(ctx, id)
			_, _ = store.List(ctx)
		}(i)
	}
	wg.Wait()

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 20)
}
