// Package subscriber adapts a watermill message.Subscriber into a pull
// Provider. Confirming acks the message. A message not processed is nacked
// when the transport redelivers on nack, otherwise a copy with an
// incremented receive count is republished to a retry topic and the
// original is acked.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/workerflow/internal/runtime"
	"github.com/drblury/workerflow/internal/runtime/config"
	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
	"github.com/drblury/workerflow/transport"
)

// ReceiveCountKey is the metadata key carrying how many times a message was
// delivered through the retry topic.
const ReceiveCountKey = "receive_count"

// DefaultFetchWait bounds how long one fetch waits for the first message.
const DefaultFetchWait = time.Second

var (
	ErrSubscriberRequired = errors.New("workerflow: subscriber is required")
	ErrSubscriptionClosed = errors.New("workerflow: subscription closed")
)

// RetryTopicFunc picks the topic a failed message is republished to.
type RetryTopicFunc func(topic string, receiveCount int) string

// StaticRetryTopic always republishes to name.
func StaticRetryTopic(name string) RetryTopicFunc {
	return func(string, int) string { return name }
}

// Config configures a Provider. Subscriber and Topic are required.
type Config struct {
	Subscriber   message.Subscriber
	Topic        string
	Capabilities transport.Capabilities

	// Publisher and RetryTopic are used for transports without nack. A nil
	// RetryTopic republishes to Topic.
	Publisher  message.Publisher
	RetryTopic RetryTopicFunc

	// MaxMessages caps one fetch; FetchWait bounds the wait for the first
	// message so bounded runs end.
	MaxMessages int
	FetchWait   time.Duration

	Logger loggingpkg.ServiceLogger
}

// FromTransport fills Subscriber, Publisher and Capabilities from a built
// transport.
func FromTransport(t transport.Transport, pubSubSystem, topic string) Config {
	return Config{
		Subscriber:   t.Subscriber,
		Publisher:    t.Publisher,
		Topic:        topic,
		Capabilities: transport.GetCapabilities(pubSubSystem),
	}
}

// Provider pulls *message.Message values from one topic.
type Provider struct {
	cfg    Config
	logger loggingpkg.ServiceLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	messages <-chan *message.Message
	stopped  bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.Subscriber == nil {
		return nil, ErrSubscriberRequired
	}
	if cfg.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = config.DefaultSQSMaxMessages
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = DefaultFetchWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		cfg:    cfg,
		logger: loggingpkg.OrDiscard(cfg.Logger).With(loggingpkg.LogFields{"topic": cfg.Topic}),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (p *Provider) String() string {
	return fmt.Sprintf("<subscriber.Provider: %s>", p.cfg.Topic)
}

// subscription subscribes on first use. The subscription outlives single
// fetches and ends with Stop.
func (p *Provider) subscription() (<-chan *message.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrSubscriptionClosed
	}
	if p.messages != nil {
		return p.messages, nil
	}
	msgs, err := p.cfg.Subscriber.Subscribe(p.ctx, p.cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", p.cfg.Topic, err)
	}
	p.messages = msgs
	return msgs, nil
}

// FetchMessages waits up to FetchWait for a message, then takes whatever
// else is immediately available up to MaxMessages. No message is not an
// error.
func (p *Provider) FetchMessages(ctx context.Context) ([]runtime.Message, error) {
	msgs, err := p.subscription()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(p.cfg.FetchWait)
	defer timer.Stop()

	var batch []runtime.Message
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg, ok := <-msgs:
		if !ok {
			return nil, p.closedErr()
		}
		batch = append(batch, msg)
	}

	for len(batch) < p.cfg.MaxMessages {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return batch, nil
			}
			batch = append(batch, msg)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (p *Provider) closedErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	return ErrSubscriptionClosed
}

func (p *Provider) ConfirmMessage(_ context.Context, msg runtime.Message) error {
	m, err := asMessage(msg)
	if err != nil {
		return err
	}
	if !m.Ack() {
		return fmt.Errorf("ack message %s: already nacked", m.UUID)
	}
	return nil
}

func (p *Provider) MessageNotProcessed(_ context.Context, msg runtime.Message) error {
	m, err := asMessage(msg)
	if err != nil {
		return err
	}
	if p.cfg.Capabilities.SupportsNack || p.cfg.Publisher == nil {
		m.Nack()
		return nil
	}

	count := ReceiveCount(m) + 1
	topic := p.cfg.Topic
	if p.cfg.RetryTopic != nil {
		if t := p.cfg.RetryTopic(p.cfg.Topic, count); t != "" {
			topic = t
		}
	}

	retry := m.Copy()
	retry.Metadata.Set(ReceiveCountKey, strconv.Itoa(count))
	p.logger.Debug("Republishing message for retry", loggingpkg.LogFields{
		"retry_topic":   topic,
		"receive_count": count,
		"message_uuid":  m.UUID,
	})
	if err := p.cfg.Publisher.Publish(topic, retry); err != nil {
		m.Nack()
		return fmt.Errorf("publish retry to %q: %w", topic, err)
	}
	m.Ack()
	return nil
}

// Stop ends the subscription. The subscriber itself belongs to the
// transport and is closed by its owner.
func (p *Provider) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cancel()
	p.logger.Info("Stopping provider", nil)
}

// ReceiveCount reads ReceiveCountKey, 1 when absent or invalid.
func ReceiveCount(m *message.Message) int {
	n, err := strconv.Atoi(m.Metadata.Get(ReceiveCountKey))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func asMessage(msg runtime.Message) (*message.Message, error) {
	m, ok := msg.(*message.Message)
	if !ok || m == nil {
		return nil, fmt.Errorf("subscriber: unexpected message type %T", msg)
	}
	return m, nil
}
