package bank

import (
	"sort"
	"sync"
)

// Registry resolves a bank code to its gateway.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry creates a registry holding the given gateways.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds or replaces the gateway for g.Code().
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	r.gateways[g.Code()] = g
	r.mu.Unlock()
}

// Resolve returns the gateway for code or an unsupported_bank error.
func (r *Registry) Resolve(code string) (Gateway, error) {
	r.mu.RLock()
	g, ok := r.gateways[code]
	r.mu.RUnlock()
	if !ok {
		return nil, UnsupportedBank(code)
	}
	return g, nil
}

// Codes lists the registered bank codes in ascending order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	codes := make([]string, 0, len(r.gateways))
	for c := range r.gateways {
		codes = append(codes, c)
	}
	r.mu.RUnlock()
	sort.Strings(codes)
	return codes
}
