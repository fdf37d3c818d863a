package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNoProvider is returned when a model maps to no registered provider
// and the fallback provider is not registered either.
var ErrNoProvider = errors.New("no provider configured")

// Router is the model gateway: it sends each request to the provider
// that serves the requested model. Models without an explicit mapping
// go to the fallback provider. Registration happens at startup; the
// router is read-only afterwards.
type Router struct {
	providers map[string]Client // provider name → client
	models    map[string]string // model name → provider name
	fallback  string
}

// NewRouter creates a router whose unmapped models go to the provider
// named fallback.
func NewRouter(fallback string) *Router {
	return &Router{
		providers: make(map[string]Client),
		models:    make(map[string]string),
		fallback:  fallback,
	}
}

// AddProvider registers a client under a provider name.
func (r *Router) AddProvider(name string, client Client) {
	r.providers[name] = client
}

// AddModel maps a model name to a provider.
func (r *Router) AddModel(model, provider string) {
	r.models[model] = provider
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider returns the client registered under name, or nil.
func (r *Router) Provider(name string) Client {
	return r.providers[name]
}

// Route returns the provider name that serves model.
func (r *Router) Route(model string) (string, error) {
	if p, ok := r.models[model]; ok {
		if _, ok := r.providers[p]; ok {
			return p, nil
		}
	}
	if _, ok := r.providers[r.fallback]; ok {
		return r.fallback, nil
	}
	return "", fmt.Errorf("model %q: %w", model, ErrNoProvider)
}

// Chat sends the request to the provider serving model.
func (r *Router) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	p, err := r.Route(model)
	if err != nil {
		return nil, err
	}
	return r.providers[p].Chat(ctx, model, messages, tools)
}

// Ping checks every registered provider and joins the failures.
func (r *Router) Ping(ctx context.Context) error {
	if len(r.providers) == 0 {
		return ErrNoProvider
	}
	var errs []error
	for _, name := range r.Providers() {
		if err := r.providers[name].Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
