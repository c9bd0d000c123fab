package binder

import (
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// GroupSubscribers creates one subscriber per consumer group on first use and
// hands the same one back afterwards. Its Get method is a GroupSubscriberFunc.
type GroupSubscribers struct {
	mu      sync.Mutex
	create  func(group string) (message.Subscriber, error)
	bygroup map[string]message.Subscriber
	shared  map[string]bool
}

func NewGroupSubscribers(create func(group string) (message.Subscriber, error)) *GroupSubscribers {
	return &GroupSubscribers{
		create:  create,
		bygroup: map[string]message.Subscriber{},
		shared:  map[string]bool{},
	}
}

// Share serves group from a subscriber owned elsewhere; Close leaves it open.
func (g *GroupSubscribers) Share(group string, sub message.Subscriber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bygroup[group] = sub
	g.shared[group] = true
}

func (g *GroupSubscribers) Get(group string) (message.Subscriber, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sub, ok := g.bygroup[group]; ok {
		return sub, nil
	}
	sub, err := g.create(group)
	if err != nil {
		return nil, err
	}
	g.bygroup[group] = sub
	return sub, nil
}

// Close closes every subscriber it created.
func (g *GroupSubscribers) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs []error
	for group, sub := range g.bygroup {
		if g.shared[group] {
			continue
		}
		errs = append(errs, sub.Close())
	}
	g.bygroup = map[string]message.Subscriber{}
	g.shared = map[string]bool{}
	return errors.Join(errs...)
}
