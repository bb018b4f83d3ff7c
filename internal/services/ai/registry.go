package ai

import (
	"fmt"
	"sort"

	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/sirupsen/logrus"
)

// Registry resolves provider ids to adapters
type Registry struct {
	providers map[ProviderID]Provider
	logger    *logrus.Logger
}

// NewRegistry registers every built-in adapter on one executor
func NewRegistry(exec *transport.Executor, logger *logrus.Logger) *Registry {
	return NewRegistryOf(logger,
		NewOllama(exec, logger),
		NewOpenAI(exec, logger),
		NewTogether(exec, logger),
		NewMistral(exec, logger),
		NewGroq(exec, logger),
		NewDeepSeek(exec, logger),
		NewOpenRouter(exec, logger),
		NewAnthropic(exec, logger),
		NewGoogle(exec, logger),
	)
}

// NewRegistryOf creates a registry over the given adapters
func NewRegistryOf(logger *logrus.Logger, providers ...Provider) *Registry {
	r := &Registry{providers: make(map[ProviderID]Provider, len(providers)), logger: logger}
	for _, p := range providers {
		r.providers[p.ID()] = p
	}
	return r
}

// Get returns the adapter for id. An unknown id is a configuration error.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[ProviderID(id)]
	if !ok {
		r.logger.WithField("provider", id).Error("No matching provider")
		return nil, &ConfigurationError{Provider: id, Err: fmt.Errorf("%w: %s", ErrNoMatchingProvider, id)}
	}
	return p, nil
}

// IDs returns the registered provider ids in sorted order
func (r *Registry) IDs() []ProviderID {
	ids := make([]ProviderID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
