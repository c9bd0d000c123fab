// Package channel provides the in-memory binder backed by watermill's
// gochannel pub/sub. It is used for tests and local runs.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/streambridge/binder"
)

// BinderName is the name used to register this binder.
const BinderName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the channel binder to the default registry.
func Register() {
	binder.RegisterWithCapabilities(BinderName, Build, binder.ChannelCapabilities)
}

// Build creates one gochannel shared by publisher and subscriber; closing it
// twice is a no-op. Messages published before a subscription exists are kept
// for it.
func Build(ctx context.Context, cfg binder.Config, logger watermill.LoggerAdapter) (*binder.Binder, error) {
	pub, sub := Factory(gochannel.Config{Persistent: true}, logger)
	topics := binder.NewTopicRegistry()
	provisioner := NewMemoryProvisioner(topics)

	return &binder.Binder{
		Name:        BinderName,
		Publisher:   pub,
		Subscriber:  sub,
		Provisioner: binder.Idempotent(provisioner),
		Topics:      topics,
		Health:      NewIndicator(topics),
	}, nil
}

// Capabilities returns the capabilities of this binder.
func Capabilities() binder.Capabilities {
	return binder.ChannelCapabilities
}
