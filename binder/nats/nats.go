// Package nats provides the NATS binder: watermill-nats core pub/sub with
// queue groups and a connection health facet. Core NATS keeps no server-side
// state for subjects, so provisioning only validates subjects and checks the
// connection.
package nats

import (
	"context"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/health"
)

// BinderName is the name used to register this binder.
const BinderName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the NATS binder to the default registry.
func Register() {
	binder.RegisterWithCapabilities(BinderName, Build, binder.NATSCapabilities)
}

// Build creates core NATS pub/sub plus a separate management connection used
// for provisioning and health.
func Build(ctx context.Context, cfg binder.Config, logger watermill.LoggerAdapter) (*binder.Binder, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return nil, fmt.Errorf("nats: url is required")
	}
	marshaler := &wmnats.NATSMarshaler{}
	coreOnly := wmnats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		wmnats.PublisherConfig{
			URL:       url,
			Marshaler: marshaler,
			JetStream: coreOnly,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	newSubscriber := func(group string) (message.Subscriber, error) {
		return SubscriberFactory(
			wmnats.SubscriberConfig{
				URL:              url,
				QueueGroupPrefix: group,
				Unmarshaler:      marshaler,
				JetStream:        coreOnly,
			},
			logger,
		)
	}

	subscriber, err := newSubscriber("")
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	conn, err := Connect(url, nc.Name("streambridge-admin"))
	if err != nil {
		_ = publisher.Close()
		_ = subscriber.Close()
		return nil, binder.NewProvisioningError("connection", binder.KindProducer, fmt.Errorf("%w: %v", binder.ErrBrokerUnavailable, err))
	}

	topics := binder.NewTopicRegistry()
	groups := binder.NewGroupSubscribers(newSubscriber)
	prober := health.NewProber(NewConnectionIndicator(conn), cfg.GetHealthTimeout(), health.WithName(BinderName))

	return &binder.Binder{
		Name:            BinderName,
		Publisher:       publisher,
		Subscriber:      subscriber,
		GroupSubscriber: groups.Get,
		Provisioner:     binder.Idempotent(NewProvisioner(conn, topics)),
		Topics:          topics,
		Health:          prober,
		Closers:         []io.Closer{groups, prober, binder.CloserFunc(func() error { conn.Close(); return nil })},
	}, nil
}

// Capabilities returns the capabilities of this binder.
func Capabilities() binder.Capabilities {
	return binder.NATSCapabilities
}
