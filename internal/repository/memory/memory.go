// Package memory is an in-process ExecutionRepository.
//
// Records are spread over a fixed set of shards, each with its own lock, so
// concurrent executions only contend when their ids hash to the same shard.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/repository"
)

const shardCount = 32

var (
	_ repository.ExecutionRepository = (*Store)(nil)
	_ repository.ExecutionLister     = (*Store)(nil)
	_ repository.ExecutionPruner     = (*Store)(nil)
)

type shard struct {
	mu      sync.RWMutex
	records map[string]*model.Execution
}

// Store is a sharded map of executions.
type Store struct {
	shards [shardCount]*shard
}

// New creates an empty Store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*model.Execution)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%shardCount]
}

// Save stores a copy of e, replacing any previous version.
func (s *Store) Save(_ context.Context, e *model.Execution) error {
	if e == nil || e.ID == "" {
		return apperror.ValidationFailed("id", "execution id is required")
	}
	c := e.Clone()

	sh := s.shardFor(e.ID)
	sh.mu.Lock()
	sh.records[e.ID] = c
	sh.mu.Unlock()
	return nil
}

// Get returns a copy of the execution with the given id.
func (s *Store) Get(_ context.Context, id string) (*model.Execution, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.records[id]
	sh.mu.RUnlock()

	if !ok {
		return nil, apperror.NotFound("execution", id)
	}
	return e.Clone(), nil
}

// Len counts stored executions. It locks each shard in turn, so the result
// is only a snapshot.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.records)
		sh.mu.RUnlock()
	}
	return n
}

// List returns copies of stored executions, newest first.
func (s *Store) List(_ context.Context, opts repository.ListOptions) ([]model.Execution, error) {
	opts = opts.Normalize()

	var all []*model.Execution
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.records {
			if opts.Status == "" || e.Status == opts.Status {
				all = append(all, e)
			}
		}
		sh.mu.RUnlock()
	}

	slices.SortFunc(all, func(a, b *model.Execution) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	if opts.Offset >= len(all) {
		return []model.Execution{}, nil
	}
	all = all[opts.Offset:min(opts.Offset+opts.Limit, len(all))]

	out := make([]model.Execution, 0, len(all))
	for _, e := range all {
		out = append(out, *e.Clone())
	}
	return out, nil
}

// DeleteFinishedBefore drops terminal executions last updated before cutoff.
func (s *Store) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.records {
			if e.Status.IsTerminal() && e.UpdatedAt.Before(cutoff) {
				delete(sh.records, id)
				deleted++
			}
		}
		sh.mu.Unlock()
	}
	return deleted, nil
}
