package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/streambridge/binder"
)

// exchangeKind matches the exchange watermill-amqp's durable pub/sub config
// declares, so provisioning and publishing agree on the declaration.
const exchangeKind = amqp091.ExchangeFanout

// Channel is the subset of *amqp091.Channel the provisioner declares with.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Close() error
}

// Connection opens channels for provisioning.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dial allows overriding the provisioning connection for testing.
var Dial = func(url string) (Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

type amqpConnection struct {
	*amqp091.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	return c.Connection.Channel()
}

// Handle is the Destination.Handle of RabbitMQ destinations. Queues is empty
// for producer destinations without required groups.
type Handle struct {
	Exchange string
	Queues   []string
}

// Provisioner declares exchanges, queues and bindings on a dedicated
// connection, dialled lazily and re-dialled after it closes. Consumer
// destinations are recorded in the topic registry.
type Provisioner struct {
	url    string
	topics *binder.TopicRegistry
	mu     sync.Mutex
	conn   Connection
}

func NewProvisioner(url string, topics *binder.TopicRegistry) *Provisioner {
	return &Provisioner{url: url, topics: topics}
}

func (p *Provisioner) EnsureProducerDestination(ctx context.Context, name string, props binder.ProducerProperties) (binder.Destination, error) {
	if err := binder.ValidateProducer(name, props); err != nil {
		return binder.Destination{}, err
	}

	handle := Handle{Exchange: name}
	err := p.withChannel(ctx, func(ch Channel) error {
		if err := declareExchange(ch, name); err != nil {
			return err
		}
		for _, group := range props.RequiredGroups {
			queue, err := declareBoundQueue(ch, name, QueueName(name, group))
			if err != nil {
				return err
			}
			handle.Queues = append(handle.Queues, queue)
		}
		return nil
	})
	if err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindProducer, err)
	}
	return binder.Destination{Name: name, Kind: binder.KindProducer, Partitions: props.PartitionCount, Handle: handle}, nil
}

func (p *Provisioner) EnsureConsumerDestination(ctx context.Context, name, group string, props binder.ConsumerProperties) (binder.Destination, error) {
	if err := binder.ValidateConsumer(name, props); err != nil {
		return binder.Destination{}, err
	}

	handle := Handle{Exchange: name}
	err := p.withChannel(ctx, func(ch Channel) error {
		if err := declareExchange(ch, name); err != nil {
			return err
		}
		queue, err := declareBoundQueue(ch, name, QueueName(name, group))
		if err != nil {
			return err
		}
		handle.Queues = []string{queue}

		if props.DLQName != "" {
			if err := declareExchange(ch, props.DLQName); err != nil {
				return err
			}
			if _, err := declareBoundQueue(ch, props.DLQName, props.DLQName); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return binder.Destination{}, binder.NewProvisioningError(name, binder.KindConsumer, err)
	}
	p.topics.Put(name, binder.TopicInformation{Group: group, Pattern: props.Pattern})
	return binder.Destination{Name: name, Kind: binder.KindConsumer, Group: group, Pattern: props.Pattern, Partitions: props.PartitionCount, Handle: handle}, nil
}

// Close closes the provisioning connection, if any.
func (p *Provisioner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// withChannel runs fn on a fresh channel; a failed declaration closes the
// channel on the broker side, so channels are never reused.
func (p *Provisioner) withChannel(ctx context.Context, fn func(Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := Dial(p.url)
		if err != nil {
			return fmt.Errorf("%w: %v", binder.ErrBrokerUnavailable, err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return classify(err)
	}
	defer func() { _ = ch.Close() }()

	return classify(fn(ch))
}

func declareExchange(ch Channel, name string) error {
	if err := ch.ExchangeDeclare(name, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

func declareBoundQueue(ch Channel, exchange, queue string) (string, error) {
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s to %s: %w", q.Name, exchange, err)
	}
	return q.Name, nil
}

// classify maps amqp errors onto the provisioning sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp091.PreconditionFailed, amqp091.AccessRefused, amqp091.NotAllowed:
			return fmt.Errorf("%w: %w", binder.ErrInvalidDestination, err)
		case amqp091.NotFound:
			return fmt.Errorf("%w: %w", binder.ErrDestinationNotFound, err)
		}
		if !amqpErr.Server || amqpErr.Recover {
			return fmt.Errorf("%w: %w", binder.ErrBrokerUnavailable, err)
		}
	}
	return err
}
