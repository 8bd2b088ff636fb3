package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusError, true},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusError, false},
		{StatusError, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestExecution_TransitionRefusesRegression(t *testing.T) {
	now := time.Now()
	e := NewExecution("abc", Request{Language: LanguagePython, Code: "print(1)"}, now)

	require.NoError(t, e.Transition(StatusRunning, now))
	require.NoError(t, e.Transition(StatusCompleted, now))

	err := e.Transition(StatusRunning, now)
	assert.Error(t, err)
	assert.Equal(t, StatusCompleted, e.Status)
}

func TestExecution_CloneIsDeep(t *testing.T) {
	e := NewExecution("abc", Request{
		Language:  LanguagePython,
		Code:      "print(input())",
		TestCases: []TestCase{{Input: "1", ExpectedOutput: "1"}},
	}, time.Now())
	e.Result = &Result{Stdout: "1"}
	e.Validation = &Validation{TestCases: []TestCaseResult{{Passed: true}}}

	c := e.Clone()
	c.TestCases[0].Input = "changed"
	c.Result.Stdout = "changed"
	c.Validation.TestCases[0].Passed = false

	assert.Equal(t, "1", e.TestCases[0].Input)
	assert.Equal(t, "1", e.Result.Stdout)
	assert.True(t, e.Validation.TestCases[0].Passed)
}

func TestNewExecution_CopiesTestCases(t *testing.T) {
	req := Request{TestCases: []TestCase{{Input: "a"}}}
	e := NewExecution("id", req, time.Now())
	req.TestCases[0].Input = "b"

	assert.Equal(t, "a", e.TestCases[0].Input)
	assert.Equal(t, StatusPending, e.Status)
}

func TestExecution_ResponseOmitsRequestFields(t *testing.T) {
	e := NewExecution("id", Request{Code: "secret"}, time.Now())
	resp := e.Response()

	assert.Equal(t, "id", resp.ID)
	assert.Equal(t, StatusPending, resp.Status)
	assert.Nil(t, resp.Result)
	assert.Nil(t, resp.Validation)
}
