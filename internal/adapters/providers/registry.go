package providers

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry manages all registered source providers.
type Registry struct {
	providers map[string]SourceProvider
	mu        sync.RWMutex
	logger    *slog.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		providers: make(map[string]SourceProvider),
		logger:    logger,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider SourceProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.providers[name] = provider
	r.logger.Info("registered provider",
		slog.String("provider", name),
		slog.String("kind", string(provider.Kind())),
		slog.Bool("allow_empty", provider.AllowEmpty()),
	)

	return nil
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (SourceProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}

	return provider, nil
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Ordered returns the registered providers in the configured priority
// order. Names without a registered provider are skipped; registered
// providers missing from the priority list are appended at the end in
// registration-map order.
func (r *Registry) Ordered(priority []string) []SourceProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := make([]SourceProvider, 0, len(r.providers))
	taken := make(map[string]bool, len(r.providers))
	for _, name := range priority {
		if p, ok := r.providers[name]; ok {
			ordered = append(ordered, p)
			taken[name] = true
		}
	}
	for name, p := range r.providers {
		if !taken[name] {
			ordered = append(ordered, p)
		}
	}
	return ordered
}
