// Package kafka provides the Kafka binder: watermill-kafka pub/sub, a sarama
// cluster-admin provisioner and the topic health facet.
package kafka

import (
	"context"
	"fmt"
	"io"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/oklog/ulid/v2"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/health"
)

// BinderName is the name used to register this binder.
const BinderName = "kafka"

// TimeoutDetail is the detail key reported when a topic probe times out.
const TimeoutDetail = "Failed to retrieve partition information in"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the Kafka binder to the default registry.
func Register() {
	binder.RegisterWithCapabilities(BinderName, Build, binder.KafkaCapabilities)
}

// Build connects the publisher, the default subscriber and the cluster admin.
func Build(ctx context.Context, cfg binder.Config, logger watermill.LoggerAdapter) (*binder.Binder, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	clientID := cfg.GetKafkaClientID()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: publisherSaramaConfig(clientID),
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	newSubscriber := func(group string) (message.Subscriber, error) {
		anonymous := group == ""
		if anonymous {
			group = AnonymousGroup()
		}
		return SubscriberFactory(
			kafka.SubscriberConfig{
				Brokers:               brokers,
				Unmarshaler:           kafka.DefaultMarshaler{},
				ConsumerGroup:         group,
				OverwriteSaramaConfig: subscriberSaramaConfig(clientID, anonymous),
			},
			logger,
		)
	}

	subscriber, err := newSubscriber(cfg.GetKafkaConsumerGroup())
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	admin, err := AdminFactory(brokers, adminSaramaConfig(clientID))
	if err != nil {
		_ = publisher.Close()
		_ = subscriber.Close()
		return nil, binder.NewProvisioningError("cluster", binder.KindProducer, fmt.Errorf("%w: %v", binder.ErrBrokerUnavailable, err))
	}

	topics := binder.NewTopicRegistry()
	provisioner := NewProvisioner(admin, topics, ProvisionerOptions{
		AutoCreateTopics:  cfg.GetKafkaAutoCreateTopics(),
		AutoAddPartitions: cfg.GetKafkaAutoAddPartitions(),
		ReplicationFactor: cfg.GetKafkaReplicationFactor(),
		MinPartitionCount: cfg.GetKafkaMinPartitionCount(),
	})

	indicator := NewTopicsIndicator(NewMetadataClient(admin), topics, cfg.GetHealthConsiderDownWhenAnyPartitionHasNoLeader())
	prober := health.NewProber(indicator, cfg.GetHealthTimeout(),
		health.WithName(BinderName),
		health.WithTimeoutDetail(TimeoutDetail),
	)

	groups := binder.NewGroupSubscribers(newSubscriber)
	groups.Share(cfg.GetKafkaConsumerGroup(), subscriber)

	return &binder.Binder{
		Name:            BinderName,
		Publisher:       publisher,
		Subscriber:      subscriber,
		GroupSubscriber: groups.Get,
		Provisioner:     binder.Idempotent(provisioner),
		Topics:          topics,
		Health:          prober,
		Closers:         []io.Closer{groups, prober, admin},
	}, nil
}

// Capabilities returns the capabilities of this binder.
func Capabilities() binder.Capabilities {
	return binder.KafkaCapabilities
}

func adminSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V3_6_0_0
	if clientID != "" {
		config.ClientID = clientID
	}
	return config
}

func publisherSaramaConfig(clientID string) *sarama.Config {
	config := kafka.DefaultSaramaSyncPublisherConfig()
	config.Version = sarama.V3_6_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 10
	if clientID != "" {
		config.ClientID = clientID
	}
	return config
}

// AnonymousGroup names the consumer group of a binding without a group. A
// fresh name per start means an anonymous consumer only sees new records.
func AnonymousGroup() string {
	return "anonymous." + ulid.Make().String()
}

// subscriberSaramaConfig starts named groups at the oldest record and
// anonymous groups at the newest.
func subscriberSaramaConfig(clientID string, anonymous bool) *sarama.Config {
	config := kafka.DefaultSaramaSubscriberConfig()
	config.Version = sarama.V3_6_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	if anonymous {
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	if clientID != "" {
		config.ClientID = clientID
	}
	return config
}
