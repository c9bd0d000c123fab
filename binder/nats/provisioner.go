package nats

import (
	"context"
	"fmt"
	"strings"

	nc "github.com/nats-io/nats.go"

	"github.com/drblury/streambridge/binder"
)

// Connection is the management connection.
type Connection interface {
	IsConnected() bool
	Status() nc.Status
	Close()
}

// Connect allows overriding the management connection for testing.
var Connect = func(url string, opts ...nc.Option) (Connection, error) {
	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Handle is the Destination.Handle of NATS destinations.
type Handle struct {
	Subject    string
	QueueGroup string
}

// ValidateSubject checks a NATS subject. Wildcard tokens are only accepted
// when pattern is set: '*' as a whole token and '>' as the last token.
func ValidateSubject(subject string, pattern bool) error {
	if strings.ContainsAny(subject, " \t\r\n") {
		return fmt.Errorf("%w: subject %q contains whitespace", binder.ErrInvalidDestination, subject)
	}
	tokens := strings.Split(subject, ".")
	for i, token := range tokens {
		switch {
		case token == "":
			return fmt.Errorf("%w: subject %q has an empty token", binder.ErrInvalidDestination, subject)
		case token == "*", token == ">" && i == len(tokens)-1:
			if !pattern {
				return fmt.Errorf("%w: subject %q contains a wildcard", binder.ErrInvalidDestination, subject)
			}
		case strings.ContainsAny(token, "*>"):
			return fmt.Errorf("%w: subject %q has a malformed wildcard", binder.ErrInvalidDestination, subject)
		}
	}
	return nil
}

// Provisioner serves core NATS, where subjects and queue groups need no
// server-side resources. It validates subjects and requires a live
// connection.
type Provisioner struct {
	conn   Connection
	topics *binder.TopicRegistry
}

func NewProvisioner(conn Connection, topics *binder.TopicRegistry) *Provisioner {
	return &Provisioner{conn: conn, topics: topics}
}

func (p *Provisioner) EnsureProducerDestination(ctx context.Context, name string, props binder.ProducerProperties) (binder.Destination, error) {
	if err := binder.ValidateProducer(name, props); err != nil {
		return binder.Destination{}, err
	}
	if err := ValidateSubject(name, false); err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindProducer, err)
	}
	if err := p.connected(); err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindProducer, err)
	}
	return binder.Destination{
		Name:       name,
		Kind:       binder.KindProducer,
		Partitions: props.PartitionCount,
		Handle:     Handle{Subject: name},
	}, nil
}

func (p *Provisioner) EnsureConsumerDestination(ctx context.Context, name, group string, props binder.ConsumerProperties) (binder.Destination, error) {
	if err := binder.ValidateConsumer(name, props); err != nil {
		return binder.Destination{}, err
	}
	if err := ValidateSubject(name, props.Pattern); err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindConsumer, err)
	}
	if props.DLQName != "" {
		if err := ValidateSubject(props.DLQName, false); err != nil {
			return binder.Destination{}, binder.NewProvisioningError(props.DLQName, binder.KindProducer, err)
		}
	}
	if err := p.connected(); err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindConsumer, err)
	}

	p.topics.Put(name, binder.TopicInformation{Group: group, Pattern: props.Pattern})
	return binder.Destination{
		Name:       name,
		Kind:       binder.KindConsumer,
		Group:      group,
		Pattern:    props.Pattern,
		Partitions: props.PartitionCount,
		Handle:     Handle{Subject: name, QueueGroup: group},
	}, nil
}

func (p *Provisioner) connected() error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("%w: connection is %s", binder.ErrBrokerUnavailable, p.conn.Status())
	}
	return nil
}
