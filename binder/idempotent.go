package binder

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// IdempotentProvisioner collapses concurrent identical Ensure calls into one
// broker round trip and remembers successful results. Calls for the same
// name and kind never reach the wrapped provisioner concurrently, even with
// different groups or properties. Failures are not cached so a later call
// can succeed once the broker recovers.
type IdempotentProvisioner struct {
	inner Provisioner
	group singleflight.Group

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu    sync.RWMutex
	cache map[string]Destination
}

// Idempotent wraps p. Wrapping an IdempotentProvisioner returns it unchanged.
func Idempotent(p Provisioner) *IdempotentProvisioner {
	if ip, ok := p.(*IdempotentProvisioner); ok {
		return ip
	}
	return &IdempotentProvisioner{
		inner: p,
		locks: make(map[string]*sync.Mutex),
		cache: make(map[string]Destination),
	}
}

func (p *IdempotentProvisioner) EnsureProducerDestination(ctx context.Context, name string, props ProducerProperties) (Destination, error) {
	key := fmt.Sprintf("%s|%s|%d|%v", KindProducer, name, props.PartitionCount, props.RequiredGroups)
	return p.ensure(KindProducer, name, key, func() (Destination, error) {
		return p.inner.EnsureProducerDestination(ctx, name, props)
	})
}

func (p *IdempotentProvisioner) EnsureConsumerDestination(ctx context.Context, name, group string, props ConsumerProperties) (Destination, error) {
	key := fmt.Sprintf("%s|%s|%s|%+v", KindConsumer, name, group, props)
	return p.ensure(KindConsumer, name, key, func() (Destination, error) {
		return p.inner.EnsureConsumerDestination(ctx, name, group, props)
	})
}

func (p *IdempotentProvisioner) ensure(kind Kind, name, key string, provision func() (Destination, error)) (Destination, error) {
	if dest, ok := p.cached(key); ok {
		return dest, nil
	}

	result, err, _ := p.group.Do(key, func() (any, error) {
		lock := p.destinationLock(kind, name)
		lock.Lock()
		defer lock.Unlock()

		// a flight that finished between the cache miss and Do already stored it
		if dest, ok := p.cached(key); ok {
			return dest, nil
		}
		dest, err := provision()
		if err != nil {
			return Destination{}, err
		}
		p.mu.Lock()
		p.cache[key] = dest
		p.mu.Unlock()
		return dest, nil
	})
	if err != nil {
		return Destination{}, err
	}
	return result.(Destination), nil
}

// destinationLock returns the lock serializing inner calls for (kind, name).
func (p *IdempotentProvisioner) destinationLock(kind Kind, name string) *sync.Mutex {
	key := kind.String() + "|" + name
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	lock, ok := p.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[key] = lock
	}
	return lock
}

func (p *IdempotentProvisioner) cached(key string) (Destination, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dest, ok := p.cache[key]
	return dest, ok
}

// Forget drops every cached result, forcing the next calls back to the broker.
func (p *IdempotentProvisioner) Forget() {
	p.mu.Lock()
	p.cache = make(map[string]Destination)
	p.mu.Unlock()
}

// Unwrap returns the wrapped provisioner.
func (p *IdempotentProvisioner) Unwrap() Provisioner { return p.inner }
