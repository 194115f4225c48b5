// Package jetstream pulls messages from a NATS JetStream durable consumer.
// Confirming acks the message; a message not processed is nacked with a
// delay that grows with its delivery count.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/drblury/workerflow/internal/runtime"
	"github.com/drblury/workerflow/internal/runtime/config"
	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

const (
	DefaultStream     = "WORKERFLOW"
	DefaultMaxDeliver = 5
	DefaultAckWait    = 30 * time.Second
	DefaultFetchWait  = time.Second
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = time.Hour
	DefaultBatchSize  = 10
)

var ErrURLRequired = errors.New("workerflow: nats url is required")

// Config configures a Provider. Subject is required.
type Config struct {
	URL     string
	Stream  string
	Subject string
	// Durable names the consumer; derived from the subject when empty.
	Durable string

	MaxDeliver int
	AckWait    time.Duration
	BatchSize  int
	FetchWait  time.Duration

	// BackoffFactor > 0 delays redelivery by BaseDelay*factor^deliveries,
	// capped at MaxDelay.
	BackoffFactor float64
	BaseDelay     time.Duration
	MaxDelay      time.Duration

	// Retention is "limits" (default), "interest" or "workqueue".
	Retention string
}

// ConfigFrom copies the NATS settings of cfg for subject.
func ConfigFrom(cfg *config.Config, subject string) Config {
	return Config{
		URL:       cfg.NATSURL,
		Stream:    cfg.JetStreamStream,
		Durable:   cfg.JetStreamDurable,
		Subject:   subject,
		BatchSize: cfg.JetStreamBatchSize,
	}
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Durable == "" {
		c.Durable = "workerflow_" + strings.NewReplacer(".", "_", "*", "any", ">", "all").Replace(c.Subject)
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FetchWait <= 0 {
		c.FetchWait = DefaultFetchWait
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// Subscription is a pull subscription. *nats.Subscription satisfies it.
type Subscription interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
	Unsubscribe() error
}

// Acker is the acknowledgment side of a JetStream message. *nats.Msg
// satisfies it.
type Acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Metadata() (*nats.MsgMetadata, error)
}

// Provider fetches *nats.Msg values from a durable pull consumer.
type Provider struct {
	sub    Subscription
	cfg    Config
	logger loggingpkg.ServiceLogger
	close  func()

	stopOnce sync.Once
}

// Dial connects to NATS, ensures the stream and the durable consumer exist
// and binds a pull subscription to them.
func Dial(cfg Config, logger loggingpkg.ServiceLogger) (*Provider, error) {
	if cfg.URL == "" {
		return nil, ErrURLRequired
	}
	if cfg.Subject == "" {
		return nil, errspkg.ErrTopicRequired
	}
	cfg = cfg.withDefaults()

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := ensureStream(js, cfg); err != nil {
		nc.Close()
		return nil, err
	}
	if err := ensureConsumer(js, cfg); err != nil {
		nc.Close()
		return nil, err
	}
	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, nats.Bind(cfg.Stream, cfg.Durable))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("pull subscribe %q: %w", cfg.Subject, err)
	}
	return newProvider(sub, cfg, logger, nc.Close), nil
}

// NewProvider wraps an existing pull subscription.
func NewProvider(sub Subscription, cfg Config, logger loggingpkg.ServiceLogger) (*Provider, error) {
	if sub == nil {
		return nil, errors.New("workerflow: jetstream subscription is required")
	}
	return newProvider(sub, cfg.withDefaults(), logger, nil), nil
}

func newProvider(sub Subscription, cfg Config, logger loggingpkg.ServiceLogger, closeConn func()) *Provider {
	return &Provider{
		sub:    sub,
		cfg:    cfg,
		logger: loggingpkg.OrDiscard(logger).With(loggingpkg.LogFields{"stream": cfg.Stream, "subject": cfg.Subject}),
		close:  closeConn,
	}
}

func ensureStream(js nats.JetStreamContext, cfg Config) error {
	streamCfg := &nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
	}
	switch cfg.Retention {
	case "interest":
		streamCfg.Retention = nats.InterestPolicy
	case "workqueue":
		streamCfg.Retention = nats.WorkQueuePolicy
	default:
		streamCfg.Retention = nats.LimitsPolicy
	}

	if _, err := js.StreamInfo(cfg.Stream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", cfg.Stream, err)
	}
	if _, err := js.AddStream(streamCfg); err != nil {
		return fmt.Errorf("add stream %q: %w", cfg.Stream, err)
	}
	return nil
}

func ensureConsumer(js nats.JetStreamContext, cfg Config) error {
	consumerCfg := &nats.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.Subject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		DeliverPolicy: nats.DeliverAllPolicy,
	}
	if _, err := js.AddConsumer(cfg.Stream, consumerCfg); err != nil {
		if _, err := js.UpdateConsumer(cfg.Stream, consumerCfg); err != nil {
			return fmt.Errorf("create consumer %q: %w", cfg.Durable, err)
		}
	}
	return nil
}

func (p *Provider) String() string {
	return fmt.Sprintf("<jetstream.Provider: %s/%s>", p.cfg.Stream, p.cfg.Durable)
}

// FetchMessages pulls up to BatchSize messages, waiting at most FetchWait.
func (p *Provider) FetchMessages(ctx context.Context) ([]runtime.Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchWait)
	defer cancel()

	msgs, err := p.sub.Fetch(p.cfg.BatchSize, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch from %q: %w", p.cfg.Durable, err)
	}

	out := make([]runtime.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m)
	}
	return out, nil
}

func (p *Provider) ConfirmMessage(_ context.Context, msg runtime.Message) error {
	a, err := asAcker(msg)
	if err != nil {
		return err
	}
	if err := a.Ack(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// MessageNotProcessed naks the message, delayed when a backoff factor is set.
func (p *Provider) MessageNotProcessed(_ context.Context, msg runtime.Message) error {
	a, err := asAcker(msg)
	if err != nil {
		return err
	}
	if p.cfg.BackoffFactor <= 0 {
		if err := a.Nak(); err != nil {
			return fmt.Errorf("nak: %w", err)
		}
		return nil
	}

	delay := p.redeliveryDelay(a)
	p.logger.Debug("Delaying redelivery", loggingpkg.LogFields{"delay": delay.String()})
	if err := a.NakWithDelay(delay); err != nil {
		return fmt.Errorf("nak with delay: %w", err)
	}
	return nil
}

func (p *Provider) redeliveryDelay(a Acker) time.Duration {
	deliveries := 1
	if md, err := a.Metadata(); err == nil && md.NumDelivered > 0 {
		deliveries = int(md.NumDelivered)
	}
	multiplier := runtime.CalculateBackoffMultiplier(deliveries, p.cfg.BackoffFactor)
	// Clamp before converting: large products overflow int64.
	delay := min(multiplier*float64(p.cfg.BaseDelay), float64(p.cfg.MaxDelay))
	return time.Duration(delay)
}

// Stop unsubscribes and closes the connection opened by Dial. The durable
// consumer is kept.
func (p *Provider) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping provider", nil)
		if err := p.sub.Unsubscribe(); err != nil {
			p.logger.Error("Unsubscribe failed", err, nil)
		}
		if p.close != nil {
			p.close()
		}
	})
}

func asAcker(msg runtime.Message) (Acker, error) {
	a, ok := msg.(Acker)
	if !ok || a == nil {
		return nil, fmt.Errorf("jetstream: unexpected message type %T", msg)
	}
	return a, nil
}
