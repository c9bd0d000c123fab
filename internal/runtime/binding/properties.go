// Package binding maps function bindings such as "proxyConsumer-in-0" onto
// broker destinations, and holds the typed functions bound through them.
package binding

import (
	"sort"
	"strings"
	"sync"

	"github.com/drblury/streambridge/binder"
	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
)

// Properties configure one binding.
type Properties struct {
	Destination string
	Group       string
	// Retries is the number of redeliveries after the first failed attempt.
	Retries        int
	DLTDestination string

	Pattern        bool
	Concurrency    int
	PartitionCount int32
	RequiredGroups []string
}

// DestinationOr returns the configured destination, or fallback when blank.
func (p Properties) DestinationOr(fallback string) string {
	if strings.TrimSpace(p.Destination) == "" {
		return fallback
	}
	return p.Destination
}

func (p Properties) ConsumerProperties() binder.ConsumerProperties {
	return binder.ConsumerProperties{
		Concurrency:    p.Concurrency,
		Pattern:        p.Pattern,
		PartitionCount: p.PartitionCount,
		DLQName:        p.DLTDestination,
	}
}

func (p Properties) ProducerProperties() binder.ProducerProperties {
	return binder.ProducerProperties{
		PartitionCount: p.PartitionCount,
		RequiredGroups: append([]string(nil), p.RequiredGroups...),
	}
}

// Registry holds the properties of every binding by name.
type Registry struct {
	mu    sync.RWMutex
	props map[string]Properties
}

func NewRegistry() *Registry {
	return &Registry{props: make(map[string]Properties)}
}

// Set stores props for name, replacing earlier values.
func (r *Registry) Set(name string, props Properties) error {
	if strings.TrimSpace(name) == "" {
		return errspkg.ErrBindingNameRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.props[name] = props
	return nil
}

func (r *Registry) Get(name string) (Properties, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	props, ok := r.props[name]
	return props, ok
}

// Destination resolves the destination of a binding. Unknown or blank
// bindings resolve to the binding name itself.
func (r *Registry) Destination(name string) string {
	props, _ := r.Get(name)
	return props.DestinationOr(name)
}

// Names returns the configured binding names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.props))
	for name := range r.props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
