package services

import (
	"github.com/fortescwb/connectors/internal/core/domain"
	"github.com/fortescwb/connectors/internal/core/ports"
)

// StaticRegistry is an immutable-after-construction capability
// registry, generalized from the teacher's approach of wiring a single
// dispatcher per platform in main.go — here the mapping is data rather
// than a hardcoded "facebook" handler.
type StaticRegistry struct {
	handlers map[domain.Capability]ports.Handler
}

// NewRegistry builds a registry from a capability-to-handler mapping.
// The map is copied so later mutation of the caller's map cannot
// affect the registry (spec.md §5: "immutable after runtime
// construction").
func NewRegistry(handlers map[domain.Capability]ports.Handler) *StaticRegistry {
	copied := make(map[domain.Capability]ports.Handler, len(handlers))
	for k, v := range handlers {
		copied[k] = v
	}
	return &StaticRegistry{handlers: copied}
}

func (r *StaticRegistry) Lookup(id domain.Capability) (ports.Handler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

var _ ports.CapabilityRegistry = (*StaticRegistry)(nil)
