// Package bindertest provides fakes for testing binders and code built on
// them.
package bindertest

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a settable binder configuration.
type Config struct {
	BinderType string

	KafkaBrokers           []string
	KafkaClientID          string
	KafkaConsumerGroup     string
	KafkaAutoCreateTopics  bool
	KafkaAutoAddPartitions bool
	KafkaReplicationFactor int16
	KafkaMinPartitionCount int32

	RabbitMQURL       string
	NATSURL           string
	HTTPServerAddress string
	HTTPPublisherURL  string

	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string

	HealthTimeout        time.Duration
	ConsiderDownNoLeader bool
}

func (c *Config) GetBinderType() string            { return c.BinderType }
func (c *Config) GetKafkaBrokers() []string        { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string         { return c.KafkaClientID }
func (c *Config) GetKafkaConsumerGroup() string    { return c.KafkaConsumerGroup }
func (c *Config) GetKafkaAutoCreateTopics() bool   { return c.KafkaAutoCreateTopics }
func (c *Config) GetKafkaAutoAddPartitions() bool  { return c.KafkaAutoAddPartitions }
func (c *Config) GetKafkaReplicationFactor() int16 { return c.KafkaReplicationFactor }
func (c *Config) GetKafkaMinPartitionCount() int32 { return c.KafkaMinPartitionCount }
func (c *Config) GetRabbitMQURL() string           { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string               { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string     { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string      { return c.HTTPPublisherURL }
func (c *Config) GetAWSRegion() string             { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string          { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string        { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string    { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string           { return c.AWSEndpoint }
func (c *Config) GetHealthTimeout() time.Duration  { return c.HealthTimeout }

func (c *Config) GetHealthConsiderDownWhenAnyPartitionHasNoLeader() bool {
	return c.ConsiderDownNoLeader
}

// Publisher records published messages per topic.
type Publisher struct {
	mu        sync.Mutex
	Published map[string][]*message.Message
	Err       error
	Closed    bool
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Published == nil {
		p.Published = make(map[string][]*message.Message)
	}
	p.Published[topic] = append(p.Published[topic], messages...)
	return nil
}

// Messages returns a copy of what was published to topic.
func (p *Publisher) Messages(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.Published[topic]...)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Subscriber hands out channels that stay open until Close.
type Subscriber struct {
	mu     sync.Mutex
	Topics []string
	Closed bool
	chans  []chan *message.Message
}

func (s *Subscriber) Subscribe(_ context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan *message.Message)
	s.Topics = append(s.Topics, topic)
	s.chans = append(s.chans, ch)
	return ch, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed {
		return nil
	}
	s.Closed = true
	for _, ch := range s.chans {
		close(ch)
	}
	return nil
}
