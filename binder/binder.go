// Package binder defines the broker-neutral contract the bridge runtime binds
// functions through. Each broker lives in its own sub-package and registers a
// Builder with the registry from init.
package binder

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/streambridge/health"
)

// GroupSubscriberFunc returns a subscriber that consumes as the given group.
// Binders without consumer groups return their shared subscriber.
type GroupSubscriberFunc func(group string) (message.Subscriber, error)

// Binder is a connected broker: pub/sub plus provisioning, topic tracking and
// a health facet.
type Binder struct {
	Name       string
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// GroupSubscriber is optional; nil means Subscriber serves every group.
	GroupSubscriber GroupSubscriberFunc
	Provisioner     Provisioner
	Topics          *TopicRegistry
	Health          health.Indicator
	// Closers are released after the publisher and subscribers.
	Closers []io.Closer
}

// SubscriberFor returns the subscriber for group.
func (b *Binder) SubscriberFor(group string) (message.Subscriber, error) {
	if b.GroupSubscriber == nil || group == "" {
		return b.Subscriber, nil
	}
	return b.GroupSubscriber(group)
}

// Close releases the publisher, the subscriber and every extra closer,
// joining their errors.
func (b *Binder) Close() error {
	var errs []error
	if b.Publisher != nil {
		errs = append(errs, b.Publisher.Close())
	}
	if b.Subscriber != nil {
		errs = append(errs, b.Subscriber.Close())
	}
	for _, c := range b.Closers {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Builder creates a binder from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*Binder, error)

// Config provides the values binders read, so binder packages do not depend
// on the full config package.
type Config interface {
	GetBinderType() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string
	GetKafkaAutoCreateTopics() bool
	GetKafkaAutoAddPartitions() bool
	GetKafkaReplicationFactor() int16
	GetKafkaMinPartitionCount() int32

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string

	// Health
	GetHealthTimeout() time.Duration
	GetHealthConsiderDownWhenAnyPartitionHasNoLeader() bool
}

// closerFunc adapts a function to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// CloserFunc adapts a function to io.Closer for Binder.Closers.
func CloserFunc(fn func() error) io.Closer { return closerFunc(fn) }
