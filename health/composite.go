package health

import (
	"context"
	"sync"
)

// Composite merges named indicators into one verdict. Facets are checked in
// registration order and nested under their names.
type Composite struct {
	mu     sync.RWMutex
	names  []string
	facets map[string]Indicator
}

func NewComposite() *Composite {
	return &Composite{facets: make(map[string]Indicator)}
}

// Register adds or replaces the facet stored under name.
func (c *Composite) Register(name string, indicator Indicator) {
	if indicator == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.facets[name]; !exists {
		c.names = append(c.names, name)
	}
	c.facets[name] = indicator
}

// Names returns the facet names in registration order.
func (c *Composite) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.names...)
}

// Health aggregates facets: any DOWN wins, then any UP, otherwise UNKNOWN.
func (c *Composite) Health(ctx context.Context) Verdict {
	c.mu.RLock()
	names := append([]string(nil), c.names...)
	facets := make([]Indicator, len(names))
	for i, name := range names {
		facets[i] = c.facets[name]
	}
	c.mu.RUnlock()

	verdicts := make([]Verdict, len(facets))
	for i, facet := range facets {
		verdicts[i] = facet.Health(ctx)
	}

	result := Verdict{Status: Aggregate(verdicts...)}
	for i, name := range names {
		result.Details = append(result.Details, Detail{Key: name, Value: verdicts[i]})
	}
	return result
}

// Aggregate folds statuses with DOWN > UP > UNKNOWN.
func Aggregate(verdicts ...Verdict) Status {
	status := StatusUnknown
	for _, v := range verdicts {
		switch v.Status {
		case StatusDown:
			return StatusDown
		case StatusUp:
			status = StatusUp
		}
	}
	return status
}
