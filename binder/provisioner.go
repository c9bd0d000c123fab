package binder

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind says which side of a binding a destination serves.
type Kind int

const (
	KindProducer Kind = iota + 1
	KindConsumer
)

func (k Kind) String() string {
	switch k {
	case KindProducer:
		return "producer"
	case KindConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// Destination is a provisioned broker resource. Handle is broker specific
// (topic name, queue URL, stream info) and must not be mutated.
type Destination struct {
	Name       string
	Kind       Kind
	Group      string
	Pattern    bool
	Partitions int32
	Handle     any
}

// ProducerProperties tune producer-side provisioning.
type ProducerProperties struct {
	PartitionCount int32
	// RequiredGroups are consumer groups whose queues must exist before the
	// first message is sent, on brokers that model groups as queues.
	RequiredGroups []string
}

// ConsumerProperties tune consumer-side provisioning.
type ConsumerProperties struct {
	Concurrency    int
	InstanceCount  int
	Pattern        bool
	PartitionCount int32
	// DLQName provisions a dead-letter destination alongside the consumer.
	DLQName string
}

// Provisioner ensures destinations exist on the broker. Implementations must
// be idempotent: repeating a call with the same arguments returns an
// equivalent Destination without creating duplicate resources.
type Provisioner interface {
	EnsureProducerDestination(ctx context.Context, name string, props ProducerProperties) (Destination, error)
	EnsureConsumerDestination(ctx context.Context, name, group string, props ConsumerProperties) (Destination, error)
}

var (
	// ErrBrokerUnavailable marks failures where the broker could not be
	// reached. These are the only provisioning errors worth retrying.
	ErrBrokerUnavailable   = errors.New("streambridge: broker unavailable")
	ErrPartitionConflict   = errors.New("streambridge: partition count conflict")
	ErrInvalidDestination  = errors.New("streambridge: invalid destination")
	ErrDestinationNotFound = errors.New("streambridge: destination not found")
)

// ProvisioningError reports a failed Ensure call.
type ProvisioningError struct {
	Destination string
	Kind        Kind
	Err         error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("streambridge: provisioning %s destination %q: %v", e.Kind, e.Destination, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// NewProvisioningError wraps err unless it is nil or already a
// ProvisioningError.
func NewProvisioningError(name string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProvisioningError
	if errors.As(err, &pe) {
		return err
	}
	return &ProvisioningError{Destination: name, Kind: kind, Err: err}
}

// IsRetryable reports whether a provisioning error is a broker outage.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBrokerUnavailable)
}

// ValidateProducer applies the broker-neutral checks to producer arguments.
func ValidateProducer(name string, props ProducerProperties) error {
	if strings.TrimSpace(name) == "" {
		return NewProvisioningError(name, KindProducer, fmt.Errorf("%w: name is required", ErrInvalidDestination))
	}
	if props.PartitionCount < 0 {
		return NewProvisioningError(name, KindProducer, fmt.Errorf("%w: partition count %d is negative", ErrInvalidDestination, props.PartitionCount))
	}
	return nil
}

// ValidateConsumer applies the broker-neutral checks to consumer arguments.
func ValidateConsumer(name string, props ConsumerProperties) error {
	if strings.TrimSpace(name) == "" {
		return NewProvisioningError(name, KindConsumer, fmt.Errorf("%w: name is required", ErrInvalidDestination))
	}
	switch {
	case props.PartitionCount < 0:
		return NewProvisioningError(name, KindConsumer, fmt.Errorf("%w: partition count %d is negative", ErrInvalidDestination, props.PartitionCount))
	case props.Concurrency < 0:
		return NewProvisioningError(name, KindConsumer, fmt.Errorf("%w: concurrency %d is negative", ErrInvalidDestination, props.Concurrency))
	case props.InstanceCount < 0:
		return NewProvisioningError(name, KindConsumer, fmt.Errorf("%w: instance count %d is negative", ErrInvalidDestination, props.InstanceCount))
	}
	return nil
}

// NopProvisioner creates nothing and hands back validated destinations. It
// serves brokers without server-side resources.
type NopProvisioner struct{}

func (NopProvisioner) EnsureProducerDestination(_ context.Context, name string, props ProducerProperties) (Destination, error) {
	if err := ValidateProducer(name, props); err != nil {
		return Destination{}, err
	}
	return Destination{Name: name, Kind: KindProducer, Partitions: props.PartitionCount, Handle: name}, nil
}

func (NopProvisioner) EnsureConsumerDestination(_ context.Context, name, group string, props ConsumerProperties) (Destination, error) {
	if err := ValidateConsumer(name, props); err != nil {
		return Destination{}, err
	}
	return Destination{Name: name, Kind: KindConsumer, Group: group, Pattern: props.Pattern, Partitions: props.PartitionCount, Handle: name}, nil
}
