package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/code-runner/internal/metrics"
	"github.com/sakif/code-runner/internal/repository"
)

// Janitor periodically removes finished executions older than a retention
// window so the store does not grow without bound.
type Janitor struct {
	pruner    repository.ExecutionPruner
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// DefaultPruneInterval is used when NewJanitor gets a non-positive interval.
const DefaultPruneInterval = 10 * time.Minute

// NewJanitor creates a Janitor. It does nothing until Run is called.
func NewJanitor(pruner repository.ExecutionPruner, interval, retention time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &Janitor{
		pruner:    pruner,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Run prunes every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Prune(ctx)
		}
	}
}

// Prune runs one retention pass and returns how many executions it removed.
func (j *Janitor) Prune(ctx context.Context) int {
	n, err := j.pruner.DeleteFinishedBefore(ctx, j.now().Add(-j.retention))
	if err != nil {
		j.logger.Error("failed to prune executions", slog.String("error", err.Error()))
		return 0
	}
	if n > 0 {
		metrics.PrunedExecutions.Add(float64(n))
		j.logger.Info("pruned finished executions", slog.Int("count", n), slog.Duration("retention", j.retention))
	}
	return n
}
