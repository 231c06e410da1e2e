// Package adapters holds the provider webhook adapters and the lookup
// registry the ingress service dispatches through.
package adapters

import (
	"strings"

	"github.com/smallbiznis/dashvault/internal/webhook/domain"
)

type Registry struct {
	adapters map[string]domain.Adapter
}

func NewRegistry(adapters ...domain.Adapter) *Registry {
	registry := &Registry{adapters: map[string]domain.Adapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		service := normalize(adapter.Service())
		if service == "" {
			continue
		}
		registry.adapters[service] = adapter
	}
	return registry
}

func (r *Registry) ProviderExists(service string) bool {
	_, err := r.Adapter(service)
	return err == nil
}

func (r *Registry) Adapter(service string) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	adapter, ok := r.adapters[normalize(service)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}

func normalize(service string) string {
	return strings.ToLower(strings.TrimSpace(service))
}
