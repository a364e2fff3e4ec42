package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotConfigured is returned by builders whose credentials are absent.
// The factory skips such providers instead of failing startup.
var ErrNotConfigured = errors.New("providers: not configured")

// ErrUnknownProvider is returned when a lookup names a provider that was not built.
var ErrUnknownProvider = errors.New("providers: unknown provider")

// Provider bundles the capabilities one vendor exposes.
type Provider struct {
	Name       string
	Chat       ChatCompletions
	Batch      BatchProvider
	Background BackgroundResponder
}

// Registry resolves providers by name, case-insensitively.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(list ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(list))}
	for _, p := range list {
		r.providers[strings.ToLower(p.Name)] = p
	}
	return r
}

func (r *Registry) lookup(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Batch(name string) (BatchProvider, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if !p.Supports(CapabilityBatch) {
		return nil, fmt.Errorf("%w: %q has no batch support", ErrUnknownProvider, name)
	}
	return p.Batch, nil
}

func (r *Registry) Chat(name string) (ChatCompletions, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if !p.Supports(CapabilityChat) {
		return nil, fmt.Errorf("%w: %q has no chat support", ErrUnknownProvider, name)
	}
	return p.Chat, nil
}

// Background returns the first provider that supports background responses.
func (r *Registry) Background() (BackgroundResponder, bool) {
	for _, name := range r.Names() {
		if p := r.providers[name]; p.Supports(CapabilityBackground) {
			return p.Background, true
		}
	}
	return nil, false
}

// Names lists the registered provider keys in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
