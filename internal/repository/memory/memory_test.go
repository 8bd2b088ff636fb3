package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/repository"
)

func newExecution(id string) *model.Execution {
	return model.NewExecution(id, model.Request{
		Language:  model.LanguagePython,
		Code:      "print(1)",
		TestCases: []model.TestCase{{Input: "1", ExpectedOutput: "1"}},
	}, time.Now())
}

func TestStore_SaveAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newExecution("a")))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 1, s.Len())
}

func TestStore_GetUnknown(t *testing.T) {
	s := New()

	_, err := s.Get(context.Background(), "missing")

	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestStore_SaveRejectsEmptyID(t *testing.T) {
	s := New()

	err := s.Save(context.Background(), &model.Execution{})

	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestStore_CopiesInAndOut(t *testing.T) {
	s := New()
	ctx := context.Background()

	e := newExecution("a")
	require.NoError(t, s.Save(ctx, e))

	// Mutating the caller's copy after Save does not leak into the store.
	e.TestCases[0].Input = "changed"
	e.Status = model.StatusCompleted

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", got.TestCases[0].Input)
	assert.Equal(t, model.StatusPending, got.Status)

	// Neither does mutating a value returned by Get.
	got.TestCases[0].Input = "changed again"
	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", again.TestCases[0].Input)
}

func TestStore_SaveReplaces(t *testing.T) {
	s := New()
	ctx := context.Background()

	e := newExecution("a")
	require.NoError(t, s.Save(ctx, e))
	require.NoError(t, e.Transition(model.StatusRunning, time.Now()))
	require.NoError(t, s.Save(ctx, e))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	assert.Equal(t, 1, s.Len())
}

func TestStore_Concurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("exec-%d", i)
			e := newExecution(id)
			for _, next := range []model.Status{model.StatusRunning, model.StatusCompleted} {
				assert.NoError(t, s.Save(ctx, e))
				_, err := s.Get(ctx, id)
				assert.NoError(t, err)
				assert.NoError(t, e.Transition(next, time.Now()))
			}
			assert.NoError(t, s.Save(ctx, e))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 64, s.Len())
	got, err := s.Get(ctx, "exec-7")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
}

func TestStore_List(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		e := newExecution(fmt.Sprintf("e%d", i))
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			require.NoError(t, e.Transition(model.StatusRunning, base))
		}
		require.NoError(t, s.Save(ctx, e))
	}

	got, err := s.List(ctx, repository.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e4", got[0].ID, "newest first")
	assert.Equal(t, "e3", got[1].ID)

	got, err = s.List(ctx, repository.ListOptions{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e0", got[0].ID)

	got, err = s.List(ctx, repository.ListOptions{Status: model.StatusRunning})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.List(ctx, repository.ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_DeleteFinishedBefore(t *testing.T) {
	s := New()
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	done := newExecution("done")
	require.NoError(t, done.Transition(model.StatusRunning, old))
	require.NoError(t, done.Transition(model.StatusCompleted, old))
	require.NoError(t, s.Save(ctx, done))

	stale := newExecution("stale-running")
	require.NoError(t, stale.Transition(model.StatusRunning, old))
	require.NoError(t, s.Save(ctx, stale))

	fresh := newExecution("fresh")
	require.NoError(t, fresh.Transition(model.StatusError, time.Now()))
	require.NoError(t, s.Save(ctx, fresh))

	n, err := s.DeleteFinishedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "done")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = s.Get(ctx, "stale-running")
	assert.NoError(t, err, "non-terminal executions are kept")
	_, err = s.Get(ctx, "fresh")
	assert.NoError(t, err)
}
