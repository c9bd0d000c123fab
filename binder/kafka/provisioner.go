package kafka

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"github.com/drblury/streambridge/binder"
)

const maxTopicNameLength = 249

var legalTopicName = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// metadataBackOff paces describe retries while metadata for a new or grown
// topic propagates to the brokers.
var metadataBackOff = func() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), 8)
}

// ProvisionerOptions mirror the kafka.* configuration keys.
type ProvisionerOptions struct {
	AutoCreateTopics  bool
	AutoAddPartitions bool
	// ReplicationFactor -1 defers to the broker default.
	ReplicationFactor int16
	MinPartitionCount int32
}

// Provisioner creates topics and partitions through the cluster admin and
// records consumer destinations in the topic registry.
type Provisioner struct {
	admin  ClusterAdmin
	topics *binder.TopicRegistry
	opts   ProvisionerOptions
}

func NewProvisioner(admin ClusterAdmin, topics *binder.TopicRegistry, opts ProvisionerOptions) *Provisioner {
	if opts.MinPartitionCount < 1 {
		opts.MinPartitionCount = 1
	}
	if opts.ReplicationFactor == 0 {
		opts.ReplicationFactor = -1
	}
	return &Provisioner{admin: admin, topics: topics, opts: opts}
}

// ValidateTopicName applies Kafka's topic naming rules.
func ValidateTopicName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: topic name is required", binder.ErrInvalidDestination)
	case len(name) > maxTopicNameLength:
		return fmt.Errorf("%w: topic name is longer than %d characters", binder.ErrInvalidDestination, maxTopicNameLength)
	case name == "." || name == "..":
		return fmt.Errorf("%w: topic name cannot be %q", binder.ErrInvalidDestination, name)
	case !legalTopicName.MatchString(name):
		return fmt.Errorf("%w: topic name %q contains characters other than [a-zA-Z0-9._-]", binder.ErrInvalidDestination, name)
	}
	return nil
}

func (p *Provisioner) EnsureProducerDestination(ctx context.Context, name string, props binder.ProducerProperties) (binder.Destination, error) {
	if err := binder.ValidateProducer(name, props); err != nil {
		return binder.Destination{}, err
	}
	if err := ValidateTopicName(name); err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindProducer, err)
	}

	partitions, err := p.ensureTopic(ctx, name, props.PartitionCount)
	if err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindProducer, err)
	}
	return binder.Destination{Name: name, Kind: binder.KindProducer, Partitions: partitions, Handle: name}, nil
}

func (p *Provisioner) EnsureConsumerDestination(ctx context.Context, name, group string, props binder.ConsumerProperties) (binder.Destination, error) {
	if err := binder.ValidateConsumer(name, props); err != nil {
		return binder.Destination{}, err
	}

	if props.Pattern {
		// patterns are resolved by the consumer; only connectivity is checked by health
		p.topics.Put(name, binder.TopicInformation{Group: group, Pattern: true})
		return binder.Destination{Name: name, Kind: binder.KindConsumer, Group: group, Pattern: true, Handle: name}, nil
	}

	if err := ValidateTopicName(name); err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindConsumer, err)
	}

	required := props.PartitionCount
	if props.InstanceCount*props.Concurrency > int(required) {
		required = int32(props.InstanceCount * props.Concurrency)
	}
	count, err := p.ensureTopic(ctx, name, required)
	if err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindConsumer, err)
	}

	partitions, err := p.describe(ctx, name)
	if err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindConsumer, err)
	}
	p.topics.Put(name, binder.TopicInformation{Group: group, Partitions: partitions})

	if props.DLQName != "" {
		if err := ValidateTopicName(props.DLQName); err != nil {
			return binder.Destination{}, binder.NewProvisioningError(props.DLQName, binder.KindProducer, err)
		}
		if _, err := p.ensureTopic(ctx, props.DLQName, 0); err != nil {
			return binder.Destination{}, binder.NewProvisioningError(props.DLQName, binder.KindProducer, err)
		}
	}

	return binder.Destination{Name: name, Kind: binder.KindConsumer, Group: group, Partitions: count, Handle: name}, nil
}

// ensureTopic makes sure name exists with at least required partitions
// (bounded below by MinPartitionCount) and returns the partition count.
func (p *Provisioner) ensureTopic(ctx context.Context, name string, required int32) (int32, error) {
	if required < p.opts.MinPartitionCount {
		required = p.opts.MinPartitionCount
	}

	existing, err := await(ctx, func() (map[string]sarama.TopicDetail, error) { return p.admin.ListTopics() })
	if err != nil {
		return 0, classify(err)
	}

	detail, exists := existing[name]
	if !exists {
		if !p.opts.AutoCreateTopics {
			return 0, fmt.Errorf("%w: topic %s does not exist and auto-create is disabled", binder.ErrDestinationNotFound, name)
		}
		err := p.admin.CreateTopic(name, &sarama.TopicDetail{
			NumPartitions:     required,
			ReplicationFactor: p.opts.ReplicationFactor,
		}, false)
		if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return 0, classify(err)
		}
		return required, nil
	}

	if detail.NumPartitions >= required {
		return detail.NumPartitions, p.refresh(ctx, name, detail.NumPartitions)
	}
	if !p.opts.AutoAddPartitions {
		return 0, fmt.Errorf("%w: topic %s has %d partitions, %d required; enable auto-add-partitions",
			binder.ErrPartitionConflict, name, detail.NumPartitions, required)
	}
	if err := p.admin.CreatePartitions(name, required, nil, false); err != nil {
		if errors.Is(err, sarama.ErrInvalidPartitions) {
			return 0, fmt.Errorf("%w: %v", binder.ErrPartitionConflict, err)
		}
		return 0, classify(err)
	}
	return required, p.refresh(ctx, name, required)
}

// refresh re-reads the partitions of a registered topic that now has more
// partitions than the registry holds, so health checks the added ones.
func (p *Provisioner) refresh(ctx context.Context, name string, count int32) error {
	info, ok := p.topics.Get(name)
	if !ok || info.Pattern || int32(len(info.Partitions)) >= count {
		return nil
	}
	partitions, err := p.describe(ctx, name)
	if err != nil {
		return err
	}
	p.topics.UpdatePartitions(name, partitions)
	return nil
}

// describe reads the partitions of name, retrying while the brokers still
// report the topic as unknown or leaderless.
func (p *Provisioner) describe(ctx context.Context, name string) ([]binder.PartitionInfo, error) {
	client := NewMetadataClient(p.admin)
	var partitions []binder.PartitionInfo
	operation := func() error {
		var err error
		partitions, err = client.PartitionsFor(ctx, name)
		if err != nil && !isPropagating(err) && !isUnavailable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(metadataBackOff(), ctx)); err != nil {
		return nil, classify(err)
	}
	return partitions, nil
}

// classify marks connectivity failures and metadata that has not propagated
// yet with ErrBrokerUnavailable so the runtime can retry them.
func classify(err error) error {
	if (isUnavailable(err) || isPropagating(err)) && !errors.Is(err, binder.ErrBrokerUnavailable) {
		return fmt.Errorf("%w: %w", binder.ErrBrokerUnavailable, err)
	}
	return err
}
