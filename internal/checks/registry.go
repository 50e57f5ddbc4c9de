package checks

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// Registry indexes checks by name and category. Safe for concurrent use;
// registration normally happens once at startup but stays guarded so tests
// and dynamic setups can extend a live registry.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		checks: make(map[string]Check),
	}
}

// Register adds a check. Duplicate names are rejected.
func (r *Registry) Register(c Check) error {
	name := c.Info().Name
	if name == "" {
		return fmt.Errorf("register check: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.checks[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	r.checks[name] = c
	r.order = append(r.order, name)
	return nil
}

// Get returns the named check.
func (r *Registry) Get(name string) (Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.checks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCheck, name)
	}
	return c, nil
}

// All returns every check in registration order.
func (r *Registry) All() []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Check, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.checks[name])
	}
	return out
}

// ByCategory returns the checks in one category, registration order.
func (r *Registry) ByCategory(cat domain.CheckCategory) []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Check
	for _, name := range r.order {
		if c := r.checks[name]; c.Info().Category == cat {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the registered check names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Descriptor is the introspection record served by the API.
type Descriptor struct {
	CheckInfo
	Schema Schema `json:"schema"`
}

// Descriptors returns every check's identity and schema.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		c := r.checks[name]
		out = append(out, Descriptor{CheckInfo: c.Info(), Schema: c.Schema()})
	}
	return out
}

// NewDefaultRegistry builds the standard battery wired to the given history
// provider and thresholds.
func NewDefaultRegistry(provider *history.Provider, cfg domain.ChecksConfig, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	battery := []Check{
		NewAmountCheck(provider, cfg, logger),
		NewTicketSizeCheck(provider, cfg, logger),
		NewTimeDayCheck(provider, cfg, logger),
		NewVelocityCheck(provider, cfg, logger),
		NewGeoLocationCheck(provider, cfg, logger),
		NewCardPresentCheck(provider, cfg, logger),
		NewContactlessCheck(provider, cfg, logger),
		NewTokenNFCCheck(provider, cfg, logger),
		NewPinVerifiedCheck(provider, cfg, logger),
		NewMagStripeCheck(provider, cfg, logger),
		NewCardNotPresentCheck(provider, cfg, logger),
		NewPreviousHistoryCheck(provider, cfg, logger),
		NewFirstTimeAlertCheck(provider, cfg, logger),
		NewRiskyCountryCheck(provider, cfg, logger),
		NewRiskyMerchantCheck(provider, cfg, logger),
		NewPatternsCheck(provider, cfg, logger),
	}
	for _, c := range battery {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}
