package runner

import (
	"slices"

	"github.com/sakif/code-runner/internal/model"
)

// Registry resolves a language identifier to its Runner.
type Registry struct {
	runners map[model.Language]Runner
}

// NewRegistry indexes runners by their language. A later runner for the
// same language replaces an earlier one.
func NewRegistry(runners ...Runner) *Registry {
	m := make(map[model.Language]Runner, len(runners))
	for _, r := range runners {
		m[r.Language()] = r
	}
	return &Registry{runners: m}
}

// Get returns the runner for lang.
func (r *Registry) Get(lang model.Language) (Runner, bool) {
	runner, ok := r.runners[lang]
	return runner, ok
}

// Languages lists the registered languages in sorted order.
func (r *Registry) Languages() []model.Language {
	langs := make([]model.Language, 0, len(r.runners))
	for lang := range r.runners {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}
