package transport

// Capabilities describes what a transport can do for at-least-once
// delivery. Subscriber providers read it to decide how a failed message is
// retried.
type Capabilities struct {
	Name string

	// SupportsAck means the transport removes a message only once it is
	// acknowledged.
	SupportsAck bool

	// SupportsNack means a negative acknowledgment triggers redelivery.
	// Without it, retries are republished to a retry topic.
	SupportsNack bool

	// SupportsOrdering means messages within a partition or stream are
	// delivered in order.
	SupportsOrdering bool

	SupportsBatching     bool
	SupportsPartitioning bool

	// MaxMessageSize in bytes, 0 when unlimited or unknown.
	MaxMessageSize int64
}

// SupportsReliableDelivery reports ack plus nack.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// RequiresRetryTopic reports whether retries must be emulated by
// republishing.
func (c Capabilities) RequiresRetryTopic() bool {
	return !c.SupportsNack
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	// Kafka commits offsets; a nack stalls the partition instead of
	// redelivering a single message.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsAck:          true,
		SupportsOrdering:     true,
		SupportsBatching:     true,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576,
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsBatching: true,
		MaxMessageSize:   262144,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)

// GetCapabilities returns the capabilities registered in the default
// registry.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
