// Package validator turns raw run outputs into pass/fail verdicts.
//
// Normalization: leading and trailing whitespace is trimmed from both the
// expected and the actual output, and the trimmed strings must be equal byte
// for byte. With CollapseWhitespace enabled, every internal run of
// whitespace is also reduced to a single space before comparing, which makes
// whitespace-sensitive problems pass more leniently.
package validator

import (
	"fmt"
	"strings"

	"github.com/sakif/code-runner/internal/model"
)

// Options tunes the comparison.
type Options struct {
	CollapseWhitespace bool
}

// Validator compares outputs against expected outputs.
type Validator struct {
	opts Options
}

// New creates a Validator.
func New(opts Options) *Validator {
	return &Validator{opts: opts}
}

// Validate pairs results[i] with testCases[i]. Both slices must have the
// same length.
func (v *Validator) Validate(results []model.Result, testCases []model.TestCase) (model.Validation, error) {
	if len(results) != len(testCases) {
		return model.Validation{}, fmt.Errorf("validator: %d results for %d test cases", len(results), len(testCases))
	}

	out := model.Validation{
		TestCases: make([]model.TestCaseResult, len(testCases)),
		Summary:   model.Summary{Total: len(testCases)},
	}
	for i, tc := range testCases {
		passed := v.Match(results[i].Stdout, tc.ExpectedOutput)
		out.TestCases[i] = model.TestCaseResult{
			Passed:         passed,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			ActualOutput:   results[i].Stdout,
			Description:    tc.Description,
			Stderr:         results[i].Stderr,
		}
		if passed {
			out.Summary.Passed++
		} else {
			out.Summary.Failed++
		}
	}
	out.Passed = out.Summary.Failed == 0
	return out, nil
}

// Match reports whether actual satisfies expected under the normalization
// policy.
func (v *Validator) Match(actual, expected string) bool {
	return v.normalize(actual) == v.normalize(expected)
}

func (v *Validator) normalize(s string) string {
	if v.opts.CollapseWhitespace {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.TrimSpace(s)
}
