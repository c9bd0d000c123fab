package binder

// Capabilities describes what a binder's broker supports. The runtime reads
// it to decide where it must emulate behaviour itself.
type Capabilities struct {
	Name string

	// SupportsConsumerGroups means competing consumers share a group's messages.
	SupportsConsumerGroups bool

	// SupportsPartitioning means destinations have a partition count.
	SupportsPartitioning bool

	// SupportsPatterns means consumer destinations may be topic patterns.
	SupportsPatterns bool

	// SupportsNativeDLQ means the broker can route rejected messages itself.
	// When false the runtime publishes to the dead-letter destination.
	SupportsNativeDLQ bool

	// SupportsOrdering means delivery is ordered within a partition or stream.
	SupportsOrdering bool

	// SupportsTopicHealth means the health facet inspects per-destination
	// broker metadata, not only connectivity.
	SupportsTopicHealth bool

	// MaxMessageSize in bytes, 0 when unknown.
	MaxMessageSize int64
}

// RequiresDLQEmulation reports whether dead-lettering is done by the runtime.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

var (
	ChannelCapabilities = Capabilities{
		Name:                   "channel",
		SupportsConsumerGroups: false,
		SupportsOrdering:       true,
	}

	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsConsumerGroups: true,
		SupportsPartitioning:   true,
		SupportsPatterns:       true,
		SupportsOrdering:       true,
		SupportsTopicHealth:    true,
		MaxMessageSize:         1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:                   "rabbitmq",
		SupportsConsumerGroups: true,
		SupportsNativeDLQ:      true,
		SupportsOrdering:       true,
	}

	NATSCapabilities = Capabilities{
		Name:                   "nats",
		SupportsConsumerGroups: true,
		SupportsOrdering:       true,
		MaxMessageSize:         1048576,
	}

	AWSCapabilities = Capabilities{
		Name:                   "aws",
		SupportsConsumerGroups: true,
		SupportsNativeDLQ:      true,
		MaxMessageSize:         262144,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)
