// Package language maps language tags to execution strategies. Alias
// collapsing happens exactly once, at request ingress; everything downstream
// deals only in canonical tags.
package language

import (
	"context"
	"errors"
	"fmt"

	"github.com/sandrun-io/sandrun/internal/sandbox"
)

// ErrUnsupported indicates the language is not in the allow-list.
var ErrUnsupported = errors.New("unsupported language")

// aliases collapse to canonical names.
var aliases = map[string]string{
	"javascript": "node",
	"shell":      "bash",
}

// Handler executes code of one language inside a sandbox.
type Handler interface {
	Execute(ctx context.Context, p sandbox.Provider, sandboxID, code string) (*sandbox.RunResult, error)
}

// Registry holds one handler per supported canonical language.
type Registry struct {
	canonical map[string]bool
	handlers  map[string]Handler
}

// NewRegistry seeds a registry for the given canonical allow-list.
// Languages without a built-in handler are rejected up front.
func NewRegistry(supported []string) (*Registry, error) {
	builtin := map[string]Handler{
		"python": pythonHandler{},
		"node":   nodeHandler{},
		"bash":   bashHandler{},
		"c":      cHandler{},
	}

	r := &Registry{
		canonical: make(map[string]bool, len(supported)),
		handlers:  make(map[string]Handler, len(supported)),
	}
	for _, lang := range supported {
		h, ok := builtin[lang]
		if !ok {
			return nil, fmt.Errorf("no handler for language %q", lang)
		}
		r.canonical[lang] = true
		r.handlers[lang] = h
	}
	return r, nil
}

// Canonical collapses aliases and validates against the allow-list.
// Returns ErrUnsupported for unknown or disallowed tags.
func (r *Registry) Canonical(lang string) (string, error) {
	if c, ok := aliases[lang]; ok {
		lang = c
	}
	if !r.canonical[lang] {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, lang)
	}
	return lang, nil
}

// Handler returns the handler for a canonical language tag.
func (r *Registry) Handler(lang string) (Handler, error) {
	h, ok := r.handlers[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, lang)
	}
	return h, nil
}

// Languages returns the canonical allow-list in unspecified order.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.handlers))
	for lang := range r.handlers {
		langs = append(langs, lang)
	}
	return langs
}
