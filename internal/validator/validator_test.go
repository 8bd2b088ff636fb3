package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-runner/internal/model"
)

func TestValidator_Match(t *testing.T) {
	tests := []struct {
		name     string
		collapse bool
		actual   string
		expected string
		want     bool
	}{
		{name: "exact", actual: "5", expected: "5", want: true},
		{name: "surrounding whitespace", actual: "5", expected: " 5 \n", want: true},
		{name: "case sensitive", actual: "yes", expected: "Yes", want: false},
		{name: "internal whitespace matters by default", actual: "1  2", expected: "1 2", want: false},
		{name: "internal newlines matter by default", actual: "1\n2", expected: "1 2", want: false},
		{name: "collapse internal runs", collapse: true, actual: "1  2\n3", expected: "1 2 3", want: true},
		{name: "collapse still case sensitive", collapse: true, actual: "a b", expected: "A B", want: false},
		{name: "no numeric tolerance", actual: "1.0", expected: "1", want: false},
		{name: "both empty", actual: "", expected: "\n", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(Options{CollapseWhitespace: tt.collapse})
			assert.Equal(t, tt.want, v.Match(tt.actual, tt.expected))
		})
	}
}

func TestValidator_Validate_TrimEqualPasses(t *testing.T) {
	v := New(Options{})

	got, err := v.Validate(
		[]model.Result{{Stdout: "5"}},
		[]model.TestCase{{Input: "2 3", ExpectedOutput: " 5 \n", Description: "sum"}},
	)

	require.NoError(t, err)
	assert.True(t, got.Passed)
	assert.Equal(t, model.Summary{Total: 1, Passed: 1, Failed: 0}, got.Summary)
	assert.Equal(t, " 5 \n", got.TestCases[0].ExpectedOutput, "expected text is kept raw")
	assert.Equal(t, "5", got.TestCases[0].ActualOutput)
	assert.Equal(t, "sum", got.TestCases[0].Description)
	assert.Equal(t, "2 3", got.TestCases[0].Input)
}

func TestValidator_Validate_MixedResults(t *testing.T) {
	v := New(Options{})

	got, err := v.Validate(
		[]model.Result{{Stdout: "wrong", Stderr: "hint"}, {Stdout: "ok"}},
		[]model.TestCase{{ExpectedOutput: "right"}, {ExpectedOutput: "ok"}},
	)

	require.NoError(t, err)
	assert.False(t, got.Passed)
	assert.Equal(t, model.Summary{Total: 2, Passed: 1, Failed: 1}, got.Summary)
	require.Len(t, got.TestCases, 2)
	assert.False(t, got.TestCases[0].Passed)
	assert.Equal(t, "hint", got.TestCases[0].Stderr)
	assert.True(t, got.TestCases[1].Passed)
}

func TestValidator_Validate_LengthMismatch(t *testing.T) {
	v := New(Options{})

	_, err := v.Validate([]model.Result{{}}, nil)

	assert.Error(t, err)
}

func TestValidator_Validate_Empty(t *testing.T) {
	v := New(Options{})

	got, err := v.Validate(nil, nil)

	require.NoError(t, err)
	assert.True(t, got.Passed)
	assert.Empty(t, got.TestCases)
	assert.Equal(t, 0, got.Summary.Total)
}
