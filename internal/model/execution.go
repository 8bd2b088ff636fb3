// Package model defines the data structures shared by the execution engine.
//
// The JSON tags follow the wire contract of POST /execute: snake_case keys,
// with result and validation omitted until they exist.
package model

import (
	"fmt"
	"time"
)

// Language identifies a supported interpreter.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
)

// Status is the lifecycle state of an Execution.
//
// STATE MACHINE:
//
//	pending → running → completed
//	                  ↘ error
//
// completed and error are terminal. A status never moves backwards.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusError
	case StatusRunning:
		return next == StatusCompleted || next == StatusError
	default:
		return false
	}
}

// Config carries the caller-supplied ceilings. Zero means "use the engine default".
type Config struct {
	TimeoutSeconds int `json:"timeout_seconds"`
	MemoryLimitMB  int `json:"memory_limit_mb"`
}

// TestCase is one input/expected-output pair. Order is significant.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Description    string `json:"description"`
}

// Request is the body of POST /execute.
type Request struct {
	Language  Language   `json:"language"`
	Code      string     `json:"code"`
	Input     string     `json:"input"`
	Config    Config     `json:"config"`
	TestCases []TestCase `json:"test_cases"`
}

// Result is the outcome of one subprocess run.
//
// MemoryUsage is the peak resident set size in bytes when the platform can
// report it, and 0 when it is unknown.
type Result struct {
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	ExitCode      int     `json:"exit_code"`
	ExecutionTime float64 `json:"execution_time"`
	MemoryUsage   int64   `json:"memory_usage"`
}

// TestCaseResult is the verdict for one test case.
// ExpectedOutput and ActualOutput hold the texts as received, not the
// normalized forms used for the comparison.
type TestCaseResult struct {
	Passed         bool   `json:"passed"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	ActualOutput   string `json:"actual_output"`
	Description    string `json:"description"`
	Stderr         string `json:"stderr"`
}

// Summary aggregates test case verdicts.
type Summary struct {
	Total  int `json:"total_tests"`
	Passed int `json:"passed_tests"`
	Failed int `json:"failed_tests"`
}

// Validation is the validator output attached to an Execution.
type Validation struct {
	Passed    bool             `json:"passed"`
	TestCases []TestCaseResult `json:"test_cases"`
	Summary   Summary          `json:"summary"`
}

// Execution is one submission and its lifecycle state.
//
// Only the executor handling an execution mutates it. Stores keep their own
// copy (see Clone) so readers never share memory with the writer.
type Execution struct {
	ID         string      `json:"id"`
	Language   Language    `json:"language"`
	Code       string      `json:"code"`
	Input      string      `json:"input"`
	Config     Config      `json:"config"`
	TestCases  []TestCase  `json:"test_cases"`
	Status     Status      `json:"status"`
	Result     *Result     `json:"result,omitempty"`
	Validation *Validation `json:"validation,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// NewExecution builds a pending Execution from a request.
func NewExecution(id string, req Request, now time.Time) *Execution {
	tests := make([]TestCase, len(req.TestCases))
	copy(tests, req.TestCases)

	return &Execution{
		ID:        id,
		Language:  req.Language,
		Code:      req.Code,
		Input:     req.Input,
		Config:    req.Config,
		TestCases: tests,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the execution to next, refusing regressions.
func (e *Execution) Transition(next Status, now time.Time) error {
	if !e.Status.CanTransition(next) {
		return fmt.Errorf("model: invalid status transition %s -> %s", e.Status, next)
	}
	e.Status = next
	e.UpdatedAt = now
	return nil
}

// Clone returns a deep copy.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}

	c := *e
	if e.TestCases != nil {
		c.TestCases = make([]TestCase, len(e.TestCases))
		copy(c.TestCases, e.TestCases)
	}
	if e.Result != nil {
		r := *e.Result
		c.Result = &r
	}
	if e.Validation != nil {
		v := *e.Validation
		if e.Validation.TestCases != nil {
			v.TestCases = make([]TestCaseResult, len(e.Validation.TestCases))
			copy(v.TestCases, e.Validation.TestCases)
		}
		c.Validation = &v
	}
	return &c
}

// Response is the wire shape returned by the engine.
type Response struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	Result     *Result     `json:"result,omitempty"`
	Validation *Validation `json:"validation,omitempty"`
}

// Response projects the execution onto the wire contract.
func (e *Execution) Response() Response {
	c := e.Clone()
	return Response{
		ID:         c.ID,
		Status:     c.Status,
		Result:     c.Result,
		Validation: c.Validation,
	}
}
