package application

import (
	"fmt"
	"sync"

	"github.com/ahrav/go-rollouts/internal/domain"
	"github.com/ahrav/go-rollouts/internal/ports"
)

// Verify interface compliance at compile time.
var _ ports.ServiceResolver = (*ServiceRegistry)(nil)

// RegistrationConflictError reports an attempt to register a service
// name under a different base URL than an existing entry. Conflicts are
// rejected to prevent silent address confusion between processes.
type RegistrationConflictError struct {
	Name     string
	Existing string
	Proposed string
}

func (e *RegistrationConflictError) Error() string {
	return fmt.Sprintf("service %q already registered at %s, refusing %s",
		e.Name, e.Existing, e.Proposed)
}

// ServiceRegistry is the process-wide, write-once-per-entry table
// mapping service instance names to reachable base URLs. Each service
// publishes its own entry when it binds; every other component only
// reads. Lookups distinguish permanent misconfiguration (name absent
// from the resolved configuration) from transient startup ordering
// (declared but not yet registered).
type ServiceRegistry struct {
	cfg     *ResolvedConfig
	mu      sync.RWMutex
	entries map[string]string
}

// NewServiceRegistry creates an empty registry bound to a resolved
// configuration.
func NewServiceRegistry(cfg *ResolvedConfig) *ServiceRegistry {
	return &ServiceRegistry{
		cfg:     cfg,
		entries: make(map[string]string),
	}
}

// Register publishes a service's base URL. Registration is idempotent
// for the same (name, baseURL) pair and fails if a different URL is
// already present or if the name is not declared in configuration.
func (r *ServiceRegistry) Register(name, baseURL string) error {
	if _, declared := r.cfg.Declared(name); !declared {
		return fmt.Errorf("%w: %s", domain.ErrServiceNotDeclared, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[name]; ok {
		if existing == baseURL {
			return nil
		}
		return &RegistrationConflictError{Name: name, Existing: existing, Proposed: baseURL}
	}
	r.entries[name] = baseURL
	return nil
}

// Deregister removes a service's entry, typically when the owning
// process shuts down.
func (r *ServiceRegistry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Resolve returns the base URL registered for the (category, name)
// pair. A name missing from configuration yields ErrServiceNotDeclared;
// a declared but unregistered name yields ErrServiceNotRegistered,
// which callers may treat as retryable during startup.
func (r *ServiceRegistry) Resolve(category, name string) (string, error) {
	declaredCategory, declared := r.cfg.Declared(name)
	if !declared {
		return "", fmt.Errorf("%w: %s/%s", domain.ErrServiceNotDeclared, category, name)
	}
	if declaredCategory != category {
		return "", fmt.Errorf("%w: %s is declared as category %s, not %s",
			domain.ErrServiceNotDeclared, name, declaredCategory, category)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	baseURL, ok := r.entries[name]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", domain.ErrServiceNotRegistered, category, name)
	}
	return baseURL, nil
}

// SeedDeclared registers every declared service at its configured
// endpoint. Collection runs use this when services were started
// elsewhere from the same resolved configuration, so their ports are
// already fixed in the tree.
func (r *ServiceRegistry) SeedDeclared() error {
	for _, decl := range r.cfg.Services() {
		if err := r.Register(decl.Name, decl.BaseURL()); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns a copy of the current registration table.
func (r *ServiceRegistry) Entries() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}
