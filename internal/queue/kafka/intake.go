package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sakif/code-runner/internal/model"
)

// Executor runs one request to completion.
type Executor interface {
	Execute(ctx context.Context, req model.Request) (*model.Execution, error)
}

// Intake moves requests from the consumer through the executor to the
// publisher, one message at a time.
type Intake struct {
	consumer  *Consumer
	publisher *Publisher
	exec      Executor
	logger    *slog.Logger
	now       func() time.Time
	retry     time.Duration
}

// NewIntake wires an Intake.
func NewIntake(consumer *Consumer, publisher *Publisher, exec Executor, logger *slog.Logger) *Intake {
	return &Intake{
		consumer:  consumer,
		publisher: publisher,
		exec:      exec,
		logger:    logger,
		now:       time.Now,
		retry:     time.Second,
	}
}

// Run consumes until ctx is cancelled and returns nil in that case.
func (in *Intake) Run(ctx context.Context) error {
	in.logger.Info("kafka intake started")
	defer in.logger.Info("kafka intake stopped")

	for {
		msg, err := in.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			in.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			if !sleep(ctx, in.retry) {
				return nil
			}
			continue
		}

		req, decodeErr := decodeRequestMessage(msg)
		logger := in.logger.With(slog.String("request_id", req.ID), slog.Int64("offset", msg.Offset))

		var result resultEnvelope
		if decodeErr != nil {
			logger.Warn("discarding malformed request", slog.String("error", decodeErr.Error()))
			result = resultFromError(req.ID, decodeErr, in.now())
		} else {
			exec, err := in.exec.Execute(ctx, req.Req)
			switch {
			case err != nil && ctx.Err() != nil:
				// Not committed; the group replays it after restart.
				return nil
			case err != nil:
				logger.Warn("request rejected", slog.String("error", err.Error()))
				result = resultFromError(req.ID, err, in.now())
			default:
				result = resultFromExecution(req.ID, exec, in.now())
			}
		}

		key := req.ID
		if key == "" {
			key = result.ExecutionID
		}
		if !in.publishWithRetry(ctx, logger, key, result) {
			return nil
		}

		if err := in.consumer.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("failed to commit message", slog.String("error", err.Error()))
		}
	}
}

// publishWithRetry keeps publishing result until it succeeds. It reports
// false when ctx ends first; the message then stays uncommitted.
func (in *Intake) publishWithRetry(ctx context.Context, logger *slog.Logger, key string, result resultEnvelope) bool {
	for {
		err := in.publisher.publish(ctx, key, result)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		logger.Error("failed to publish result", slog.String("error", err.Error()))
		if !sleep(ctx, in.retry) {
			return false
		}
	}
}

// Close releases the consumer and the publisher.
func (in *Intake) Close() error {
	return errors.Join(in.consumer.Close(), in.publisher.Close())
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
