package process

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ExecutionStore holds execution records for status queries and cancellation.
// Implementations must be safe for concurrent use. The interface is the
// contract: horizontally scaled deployments swap the in-memory store for a
// shared backing (see the postgres package) without touching the engine.
type ExecutionStore interface {
	// Save inserts or replaces the stored record for execution.ID.
	Save(ctx context.Context, execution *Execution) error

	// Get returns a snapshot of the execution or a not-found error.
	Get(ctx context.Context, executionID string) (*Execution, error)

	// Update applies fn to the stored record under the store's lock.
	Update(ctx context.Context, executionID string, fn func(*Execution) error) error

	// Cancel transitions a running execution to cancelled and returns the
	// updated snapshot. Cancelling an execution that already reached a
	// terminal status fails with a cancellation error and mutates nothing.
	Cancel(ctx context.Context, executionID string) (*Execution, error)

	// List returns summaries of all stored executions, newest first.
	List(ctx context.Context) ([]ExecutionSummary, error)
}

// MemoryStoreOptions configures the in-memory execution store.
type MemoryStoreOptions struct {
	// MaxEntries bounds the number of retained executions. When exceeded,
	// the oldest terminal executions are evicted first. Zero means unbounded.
	MaxEntries int

	// TTL evicts terminal executions older than this on each write.
	// Zero disables TTL eviction.
	TTL time.Duration
}

// MemoryExecutionStore is a mutex-guarded in-memory ExecutionStore.
type MemoryExecutionStore struct {
	mutex      sync.RWMutex
	executions map[string]*Execution
	opts       MemoryStoreOptions
	now        func() time.Time
}

// NewMemoryExecutionStore creates an unbounded in-memory store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return NewMemoryExecutionStoreWithOptions(MemoryStoreOptions{})
}

// NewMemoryExecutionStoreWithOptions creates an in-memory store with
// capacity and TTL eviction.
func NewMemoryExecutionStoreWithOptions(opts MemoryStoreOptions) *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions: map[string]*Execution{},
		opts:       opts,
		now:        time.Now,
	}
}

func (s *MemoryExecutionStore) Save(ctx context.Context, execution *Execution) error {
	if execution == nil || execution.ID == "" {
		return NewValidationError("execution with id required")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.executions[execution.ID] = execution.Copy()
	s.evictLocked()
	return nil
}

func (s *MemoryExecutionStore) Get(ctx context.Context, executionID string) (*Execution, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return nil, NewNotFoundError("execution %q not found", executionID)
	}
	return execution.Copy(), nil
}

func (s *MemoryExecutionStore) Update(ctx context.Context, executionID string, fn func(*Execution) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return NewNotFoundError("execution %q not found", executionID)
	}
	return fn(execution)
}

func (s *MemoryExecutionStore) Cancel(ctx context.Context, executionID string) (*Execution, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return nil, NewNotFoundError("execution %q not found", executionID)
	}
	if execution.Status.IsTerminal() {
		return nil, NewProcessError(ErrorTypeCancellation,
			"execution "+executionID+" already completed")
	}
	execution.Status = ExecutionStatusCancelled
	execution.CompletedAt = s.now()
	return execution.Copy(), nil
}

func (s *MemoryExecutionStore) List(ctx context.Context) ([]ExecutionSummary, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	summaries := make([]ExecutionSummary, 0, len(s.executions))
	for _, execution := range s.executions {
		summaries = append(summaries, execution.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries, nil
}

// evictLocked applies TTL then capacity eviction. Running executions are
// never evicted.
func (s *MemoryExecutionStore) evictLocked() {
	if s.opts.TTL > 0 {
		cutoff := s.now().Add(-s.opts.TTL)
		for id, execution := range s.executions {
			if execution.Status.IsTerminal() && !execution.CompletedAt.IsZero() &&
				execution.CompletedAt.Before(cutoff) {
				delete(s.executions, id)
			}
		}
	}
	if s.opts.MaxEntries <= 0 || len(s.executions) <= s.opts.MaxEntries {
		return
	}
	var terminal []*Execution
	for _, execution := range s.executions {
		if execution.Status.IsTerminal() {
			terminal = append(terminal, execution)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].StartedAt.Before(terminal[j].StartedAt)
	})
	for _, execution := range terminal {
		if len(s.executions) <= s.opts.MaxEntries {
			break
		}
		delete(s.executions, execution.ID)
	}
}
