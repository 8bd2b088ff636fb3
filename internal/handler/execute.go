package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/repository"
	"github.com/sakif/code-runner/internal/supervisor"
)

// ExecutionService is the part of *executor.Executor the HTTP layer uses.
type ExecutionService interface {
	Execute(ctx context.Context, req model.Request) (*model.Execution, error)
	Submit(ctx context.Context, req model.Request) (*model.Execution, error)
	Get(ctx context.Context, id string) (*model.Execution, error)
	List(ctx context.Context, opts repository.ListOptions) ([]model.Execution, error)
	Languages() []model.Language
	Capabilities() supervisor.Capabilities
}

// ExecuteHandler serves the execution endpoints.
type ExecuteHandler struct {
	exec   ExecutionService
	logger *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler.
func NewExecuteHandler(exec ExecutionService, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{exec: exec, logger: logger}
}

// HandleExecute runs a submission.
//
// HTTP: POST /execute[?async=true]
//
// Synchronous calls answer 200 with the final record, whether the code
// passed, failed its test cases, crashed or timed out; only request errors
// are 4xx. With async=true the answer is 202 with the pending record and
// the client polls GET /executions/{id}.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req model.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	async, err := parseBool(r.URL.Query().Get("async"))
	if err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("async", "async must be a boolean"))
		return
	}

	if async {
		exec, err := h.exec.Submit(r.Context(), req)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		w.Header().Set("Location", "/executions/"+exec.ID)
		writeJSON(w, http.StatusAccepted, exec.Response())
		return
	}

	exec, err := h.exec.Execute(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, exec.Response())
}

// HandleGet returns one execution.
//
// HTTP: GET /executions/{id}
func (h *ExecuteHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	exec, err := h.exec.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, exec.Response())
}

// executionSummary is one row of the list endpoint; code and outputs are
// left to GET /executions/{id}.
type executionSummary struct {
	ID        string         `json:"id"`
	Language  model.Language `json:"language"`
	Status    model.Status   `json:"status"`
	ExitCode  *int           `json:"exit_code,omitempty"`
	Passed    *bool          `json:"passed,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type listResponse struct {
	Executions []executionSummary `json:"executions"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// HandleList pages through executions, newest first.
//
// HTTP: GET /executions?limit=20&offset=0&status=completed
func (h *ExecuteHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := parseNonNegative(q.Get("limit"))
	if err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("limit", "limit must be a non-negative integer"))
		return
	}
	offset, err := parseNonNegative(q.Get("offset"))
	if err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("offset", "offset must be a non-negative integer"))
		return
	}
	status := model.Status(q.Get("status"))
	switch status {
	case "", model.StatusPending, model.StatusRunning, model.StatusCompleted, model.StatusError:
	default:
		writeError(w, h.logger, apperror.ValidationFailed("status", "status must be pending, running, completed or error"))
		return
	}

	opts := repository.ListOptions{Limit: limit, Offset: offset, Status: status}.Normalize()
	executions, err := h.exec.List(r.Context(), opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := listResponse{
		Executions: make([]executionSummary, 0, len(executions)),
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	}
	for _, e := range executions {
		s := executionSummary{
			ID:        e.ID,
			Language:  e.Language,
			Status:    e.Status,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		}
		if e.Result != nil {
			code := e.Result.ExitCode
			s.ExitCode = &code
		}
		if e.Validation != nil {
			passed := e.Validation.Passed
			s.Passed = &passed
		}
		resp.Executions = append(resp.Executions, s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleLanguages lists the accepted language ids.
//
// HTTP: GET /languages
func (h *ExecuteHandler) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]model.Language{"languages": h.exec.Languages()})
}

// HandleCapabilities reports what the isolation backend enforces.
//
// HTTP: GET /capabilities
func (h *ExecuteHandler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.exec.Capabilities())
}

// HandleHealth is the liveness probe.
//
// HTTP: GET /health
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func parseNonNegative(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
