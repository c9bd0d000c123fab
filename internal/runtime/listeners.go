package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// errListenerStopped is returned by a paused listener when the service shuts
// down. Such messages are neither retried nor dead-lettered.
var errListenerStopped = errors.New("streambridge: listener stopped while paused")

// Binding states reported by the management endpoints.
const (
	BindingStateRunning = "running"
	BindingStatePaused  = "paused"
	BindingStateStopped = "stopped"
	BindingStateBound   = "bound"
)

// listenerContainer tracks the router handler of one consumer binding and
// gates it while paused.
type listenerContainer struct {
	binding     string
	destination string
	group       string
	stats       *BindingStats
	stopping    <-chan struct{}

	handler *message.Handler

	mu      sync.Mutex
	resumed chan struct{}
}

func newListenerContainer(binding, destination, group string, stopping <-chan struct{}) *listenerContainer {
	return &listenerContainer{
		binding:     binding,
		destination: destination,
		group:       group,
		stats:       newBindingStats(),
		stopping:    stopping,
	}
}

func (c *listenerContainer) ListenerID() string { return c.binding }
func (c *listenerContainer) GroupID() string    { return c.group }

func (c *listenerContainer) started() bool {
	if c.handler == nil {
		return false
	}
	select {
	case <-c.handler.Started():
		return true
	default:
		return false
	}
}

func (c *listenerContainer) stopped() bool {
	if c.handler == nil {
		return false
	}
	select {
	case <-c.handler.Stopped():
		return true
	default:
		return false
	}
}

func (c *listenerContainer) IsRunning() bool {
	return c.started() && !c.stopped()
}

// IsInExpectedState is true while running, before the router started the
// handler, and once the service is shutting down.
func (c *listenerContainer) IsInExpectedState() bool {
	if c.IsRunning() || !c.started() {
		return true
	}
	select {
	case <-c.stopping:
		return true
	default:
		return false
	}
}

func (c *listenerContainer) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed != nil
}

func (c *listenerContainer) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumed == nil {
		c.resumed = make(chan struct{})
	}
}

func (c *listenerContainer) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumed != nil {
		close(c.resumed)
		c.resumed = nil
	}
}

func (c *listenerContainer) State() string {
	switch {
	case c.IsPaused():
		return BindingStatePaused
	case c.IsRunning():
		return BindingStateRunning
	default:
		return BindingStateStopped
	}
}

// gate holds messages while the listener is paused.
func (c *listenerContainer) gate(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if err := c.wait(msg.Context()); err != nil {
			return nil, err
		}
		return h(msg)
	}
}

func (c *listenerContainer) wait(ctx context.Context) error {
	c.mu.Lock()
	resumed := c.resumed
	c.mu.Unlock()
	if resumed == nil {
		return nil
	}
	select {
	case <-resumed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errListenerStopped, ctx.Err())
	case <-c.stopping:
		return errListenerStopped
	}
}

func isRedeliverable(err error) bool {
	return !errors.Is(err, errListenerStopped)
}
