package channel

import (
	"context"
	"sort"
	"sync"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/health"
)

// MemoryProvisioner "creates" destinations by remembering them. Creations
// counts how often each destination was created, so tests can assert that
// idempotent wrappers only create once.
type MemoryProvisioner struct {
	topics *binder.TopicRegistry

	mu        sync.Mutex
	creations map[string]int
}

func NewMemoryProvisioner(topics *binder.TopicRegistry) *MemoryProvisioner {
	return &MemoryProvisioner{topics: topics, creations: map[string]int{}}
}

func (p *MemoryProvisioner) EnsureProducerDestination(_ context.Context, name string, props binder.ProducerProperties) (binder.Destination, error) {
	if err := binder.ValidateProducer(name, props); err != nil {
		return binder.Destination{}, err
	}
	p.create(name)
	return binder.Destination{Name: name, Kind: binder.KindProducer, Partitions: props.PartitionCount, Handle: name}, nil
}

func (p *MemoryProvisioner) EnsureConsumerDestination(_ context.Context, name, group string, props binder.ConsumerProperties) (binder.Destination, error) {
	if err := binder.ValidateConsumer(name, props); err != nil {
		return binder.Destination{}, err
	}
	p.create(name)
	if props.DLQName != "" {
		p.create(props.DLQName)
	}
	p.topics.Put(name, binder.TopicInformation{Group: group, Pattern: props.Pattern})
	return binder.Destination{
		Name:       name,
		Kind:       binder.KindConsumer,
		Group:      group,
		Pattern:    props.Pattern,
		Partitions: props.PartitionCount,
		Handle:     name,
	}, nil
}

func (p *MemoryProvisioner) create(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creations[name]++
}

// Creations returns how often name was provisioned.
func (p *MemoryProvisioner) Creations(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creations[name]
}

// Destinations lists every provisioned destination, sorted.
func (p *MemoryProvisioner) Destinations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.creations))
	for name := range p.creations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Indicator is always UP and lists the consumer destinations in use.
type Indicator struct {
	topics *binder.TopicRegistry
}

func NewIndicator(topics *binder.TopicRegistry) *Indicator {
	return &Indicator{topics: topics}
}

func (i *Indicator) Health(context.Context) health.Verdict {
	return health.Up().With("topicsInUse", i.topics.Names())
}
