// Package main is the entry point for the code execution engine.
//
// main stays thin: it reads configuration, builds the dependency graph and
// runs the long-lived components until SIGINT or SIGTERM. All behaviour
// lives in internal/.
//
// SHUTDOWN ORDER:
//  1. The signal cancels the root context.
//  2. The HTTP server stops accepting connections and drains requests.
//  3. The Kafka intake and the janitor stop.
//  4. The executor waits for background executions, killing them if the
//     grace period runs out.
//  5. Stores and the container client are closed.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/middleware"
	"github.com/sakif/code-runner/internal/queue/kafka"
	"github.com/sakif/code-runner/internal/repository"
	"github.com/sakif/code-runner/internal/repository/memory"
	sqliteRepo "github.com/sakif/code-runner/internal/repository/sqlite"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/server"
	"github.com/sakif/code-runner/internal/service"
	"github.com/sakif/code-runner/internal/supervisor"
	"github.com/sakif/code-runner/internal/supervisor/docker"
	"github.com/sakif/code-runner/internal/validator"
)

// shutdownGrace bounds how long background executions may keep running
// after the HTTP server has stopped.
const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "code-runner:", err)
		os.Exit(1)
	}
}

func run() error {
	// === 1. CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// === 2. LOGGING ===
	logger := newLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === 3. STORE ===
	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	// === 4. SUPERVISOR AND RUNNERS ===
	sup, closeSup, err := openSupervisor(ctx, cfg.Sandbox, logger)
	if err != nil {
		return err
	}
	defer closeSup()

	pythonBin, nodeBin := cfg.Sandbox.PythonBin, cfg.Sandbox.NodeBin
	if cfg.Sandbox.Backend == config.SupervisorDocker {
		// Inside the container the interpreter is found on the image PATH.
		pythonBin, nodeBin = filepath.Base(pythonBin), filepath.Base(nodeBin)
	}
	runners := runner.NewRegistry(
		runner.NewPython(pythonBin, sup, logger),
		runner.NewJavaScript(nodeBin, sup, logger),
	)

	// === 5. EXECUTOR ===
	exec := executor.New(
		store,
		runners,
		validator.New(validator.Options{CollapseWhitespace: cfg.Validator.CollapseWhitespace}),
		sup.Capabilities(),
		executor.Options{
			DefaultTimeout:  cfg.Executor.DefaultTimeout,
			MaxTimeout:      cfg.Executor.MaxTimeout,
			DefaultMemoryMB: cfg.Executor.DefaultMemoryMB,
			MaxMemoryMB:     cfg.Executor.MaxMemoryMB,
			MaxCodeBytes:    cfg.Executor.MaxCodeBytes,
			MaxTestCases:    cfg.Executor.MaxTestCases,
			TestConcurrency: cfg.Executor.TestConcurrency,
			MaxConcurrent:   cfg.Executor.MaxConcurrent,
			WorkRoot:        cfg.Executor.WorkRoot,
		},
		logger,
	)
	logger.Info("executor ready",
		slog.Any("languages", exec.Languages()),
		slog.Any("capabilities", exec.Capabilities()),
	)

	var wg sync.WaitGroup

	// === 6. RETENTION ===
	if pruner, ok := store.(repository.ExecutionPruner); ok && cfg.Store.Retention > 0 {
		janitor := executor.NewJanitor(pruner, cfg.Store.PruneInterval, cfg.Store.Retention, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			janitor.Run(ctx)
		}()
	}

	// === 7. KAFKA INTAKE ===
	if cfg.Kafka.Enabled() {
		intake, err := newIntake(cfg.Kafka, exec, logger)
		if err != nil {
			return err
		}
		defer intake.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := intake.Run(ctx); err != nil {
				logger.Error("kafka intake stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// === 8. HTTP SERVER ===
	deps := server.Deps{Executions: exec}
	if cfg.Auth.Enabled() {
		tokens, err := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		authService, err := service.NewAuthService(cfg.Auth.Clients, auth.NewSecretHasher(auth.DefaultCost), tokens, logger)
		if err != nil {
			return err
		}
		deps.Auth, deps.Tokens = authService, tokens
	} else {
		logger.Warn("JWT_SECRET not set, authentication is disabled")
	}
	if cfg.RateLimit.RPS > 0 {
		deps.Limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	srv, err := server.New(server.Config{
		Port:         cfg.Port,
		CORSOrigins:  cfg.CORSOrigins,
		WriteTimeout: cfg.Executor.MaxTimeout*time.Duration(cfg.Executor.MaxTestCases+1) + time.Minute,
	}, deps, logger)
	if err != nil {
		return err
	}

	serveErr := srv.Start(ctx)
	stop()

	// === 9. SHUTDOWN ===
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := exec.Shutdown(shutdownCtx); err != nil {
		logger.Warn("executor shutdown cut short", slog.String("error", err.Error()))
	}

	return serveErr
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	case "tint":
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: lvl, TimeFormat: time.Kitchen}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	}
}

// executionStore is what the executor needs plus what the janitor and the
// list endpoint use.
type executionStore interface {
	repository.ExecutionRepository
	repository.ExecutionLister
	repository.ExecutionPruner
}

func openStore(cfg config.Store) (executionStore, func(), error) {
	switch cfg.Backend {
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		return db, func() { _ = db.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func openSupervisor(ctx context.Context, cfg config.Sandbox, logger *slog.Logger) (supervisor.Supervisor, func(), error) {
	if cfg.Backend != config.SupervisorDocker {
		sup := supervisor.NewProcess(supervisor.Options{MaxOutputBytes: cfg.MaxOutputBytes}, logger)
		return sup, func() {}, nil
	}

	dcfg := docker.DefaultConfig()
	dcfg.MaxOutputBytes = cfg.MaxOutputBytes
	dcfg.Images = map[string]string{
		filepath.Base(cfg.PythonBin): cfg.PythonImage,
		filepath.Base(cfg.NodeBin):   cfg.NodeImage,
	}

	sup, err := docker.New(ctx, dcfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("starting docker supervisor: %w", err)
	}
	return sup, func() {
		if err := sup.Close(); err != nil {
			logger.Warn("closing docker client", slog.String("error", err.Error()))
		}
	}, nil
}

func newIntake(cfg config.Kafka, exec kafka.Executor, logger *slog.Logger) (*kafka.Intake, error) {
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.RequestsTopic,
		GroupID: cfg.GroupID,
	})
	if err != nil {
		return nil, err
	}
	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.ResultsTopic,
	})
	if err != nil {
		return nil, errors.Join(err, consumer.Close())
	}
	return kafka.NewIntake(consumer, publisher, exec, logger.With(slog.String("component", "kafka"))), nil
}
