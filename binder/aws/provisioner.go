package aws

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go"

	"github.com/drblury/streambridge/binder"
)

// TopicAPI is the subset of the SNS client used for provisioning and health.
type TopicAPI interface {
	CreateTopic(ctx context.Context, params *amazonsns.CreateTopicInput, optFns ...func(*amazonsns.Options)) (*amazonsns.CreateTopicOutput, error)
	ListTopics(ctx context.Context, params *amazonsns.ListTopicsInput, optFns ...func(*amazonsns.Options)) (*amazonsns.ListTopicsOutput, error)
}

// QueueAPI is the subset of the SQS client used for provisioning.
type QueueAPI interface {
	CreateQueue(ctx context.Context, params *amazonsqs.CreateQueueInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.CreateQueueOutput, error)
}

// Handle is the Destination.Handle of AWS destinations. QueueURLs is empty for
// producer destinations without required groups.
type Handle struct {
	TopicArn  string
	QueueURLs []string
}

// Provisioner creates SNS topics and the SQS queues consumers read from. Both
// create calls are idempotent on the AWS side.
type Provisioner struct {
	topics TopicAPI
	queues QueueAPI
	tracks *binder.TopicRegistry
}

func NewProvisioner(topics TopicAPI, queues QueueAPI, registry *binder.TopicRegistry) *Provisioner {
	return &Provisioner{topics: topics, queues: queues, tracks: registry}
}

func (p *Provisioner) EnsureProducerDestination(ctx context.Context, name string, props binder.ProducerProperties) (binder.Destination, error) {
	if err := binder.ValidateProducer(name, props); err != nil {
		return binder.Destination{}, err
	}
	arn, err := p.createTopic(ctx, name)
	if err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindProducer, err)
	}
	handle := Handle{TopicArn: arn}
	for _, group := range props.RequiredGroups {
		queueURL, err := p.createQueue(ctx, QueueName(name, group))
		if err != nil {
			return binder.Destination{}, binder.NewProvisioningError(name, binder.KindProducer, err)
		}
		handle.QueueURLs = append(handle.QueueURLs, queueURL)
	}
	return binder.Destination{Name: name, Kind: binder.KindProducer, Partitions: props.PartitionCount, Handle: handle}, nil
}

func (p *Provisioner) EnsureConsumerDestination(ctx context.Context, name, group string, props binder.ConsumerProperties) (binder.Destination, error) {
	if err := binder.ValidateConsumer(name, props); err != nil {
		return binder.Destination{}, err
	}
	arn, err := p.createTopic(ctx, name)
	if err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindConsumer, err)
	}
	queueURL, err := p.createQueue(ctx, QueueName(name, group))
	if err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindConsumer, err)
	}
	if props.DLQName != "" {
		if _, err := p.createQueue(ctx, QueueName(props.DLQName, "")); err != nil {
			return binder.Destination{}, binder.NewProvisioningError(props.DLQName, binder.KindProducer, err)
		}
	}

	p.tracks.Put(name, binder.TopicInformation{Group: group, Pattern: props.Pattern})
	return binder.Destination{
		Name:       name,
		Kind:       binder.KindConsumer,
		Group:      group,
		Pattern:    props.Pattern,
		Partitions: props.PartitionCount,
		Handle:     Handle{TopicArn: arn, QueueURLs: []string{queueURL}},
	}, nil
}

func (p *Provisioner) createTopic(ctx context.Context, name string) (string, error) {
	out, err := p.topics.CreateTopic(ctx, &amazonsns.CreateTopicInput{Name: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("create topic %s: %w", name, classify(err))
	}
	return aws.ToString(out.TopicArn), nil
}

func (p *Provisioner) createQueue(ctx context.Context, name string) (string, error) {
	out, err := p.queues.CreateQueue(ctx, &amazonsqs.CreateQueueInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("create queue %s: %w", name, classify(err))
	}
	return aws.ToString(out.QueueUrl), nil
}

// classify maps AWS API error codes and transport failures onto the
// provisioning sentinels.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidParameter", "InvalidParameterValue", "InvalidAttributeName", "InvalidAttributeValue":
			return fmt.Errorf("%w: %w", binder.ErrInvalidDestination, err)
		case "QueueAlreadyExists", "QueueNameExists", "QueueDeletedRecently":
			return fmt.Errorf("%w: %w", binder.ErrPartitionConflict, err)
		case "NotFound", "AWS.SimpleQueueService.NonExistentQueue":
			return fmt.Errorf("%w: %w", binder.ErrDestinationNotFound, err)
		case "Throttling", "ThrottlingException", "InternalError", "ServiceUnavailable", "RequestThrottled":
			return fmt.Errorf("%w: %w", binder.ErrBrokerUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", binder.ErrBrokerUnavailable, err)
	}
	return err
}
