// Package rabbitmq provides the RabbitMQ binder: watermill-amqp pub/sub over a
// shared connection, an amqp091 exchange and queue provisioner and a
// connection health facet.
package rabbitmq

import (
	"context"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/health"
)

// BinderName is the name used to register this binder.
const BinderName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// closeConnection is swapped in tests, where connections are zero values.
var closeConnection = func(conn *amqp.ConnectionWrapper) error {
	return conn.Close()
}

func init() {
	Register()
}

// Register adds the RabbitMQ binder to the default registry.
func Register() {
	binder.RegisterWithCapabilities(BinderName, Build, binder.RabbitMQCapabilities)
}

// QueueName is the queue a consumer of group reads destination from. It
// matches the queue watermill-amqp declares for the same subscriber.
func QueueName(destination, group string) string {
	return queueNameGenerator(group)(destination)
}

func queueNameGenerator(group string) amqp.QueueNameGenerator {
	if group == "" {
		return amqp.GenerateQueueNameTopicName
	}
	return amqp.GenerateQueueNameTopicNameWithSuffix(group)
}

// Build opens one connection shared by the publisher and every group
// subscriber.
func Build(ctx context.Context, cfg binder.Config, logger watermill.LoggerAdapter) (*binder.Binder, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return nil, fmt.Errorf("rabbitmq: url is required")
	}

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, binder.NewProvisioningError("connection", binder.KindProducer, fmt.Errorf("%w: %v", binder.ErrBrokerUnavailable, err))
	}

	publisher, err := PublisherFactory(amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName), logger, conn)
	if err != nil {
		_ = closeConnection(conn)
		return nil, err
	}

	newSubscriber := func(group string) (message.Subscriber, error) {
		return SubscriberFactory(amqp.NewDurablePubSubConfig(url, queueNameGenerator(group)), logger, conn)
	}

	subscriber, err := newSubscriber("")
	if err != nil {
		_ = publisher.Close()
		_ = closeConnection(conn)
		return nil, err
	}

	groups := binder.NewGroupSubscribers(newSubscriber)
	prober := health.NewProber(NewConnectionIndicator(conn), cfg.GetHealthTimeout(), health.WithName(BinderName))
	topics := binder.NewTopicRegistry()
	provisioner := NewProvisioner(url, topics)

	return &binder.Binder{
		Name:            BinderName,
		Publisher:       publisher,
		Subscriber:      subscriber,
		GroupSubscriber: groups.Get,
		Provisioner:     binder.Idempotent(provisioner),
		Topics:          topics,
		Health:          prober,
		Closers:         []io.Closer{groups, prober, provisioner, binder.CloserFunc(func() error { return closeConnection(conn) })},
	}, nil
}

// Capabilities returns the capabilities of this binder.
func Capabilities() binder.Capabilities {
	return binder.RabbitMQCapabilities
}
