package sqs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/drblury/workerflow/internal/runtime"
	"github.com/drblury/workerflow/internal/runtime/config"
	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

// ReceiveCountAttribute is the system attribute read for visibility backoff.
const ReceiveCountAttribute = string(types.MessageSystemAttributeNameApproximateReceiveCount)

// ErrClientRequired is returned when a provider or publisher has no client.
var ErrClientRequired = errors.New("workerflow: sqs client is required")

// Options tune ReceiveMessage and the retry backoff. Zero values use the
// config package defaults.
type Options struct {
	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32

	// BackoffFactor > 0 makes MessageNotProcessed extend the visibility
	// timeout to round(factor^receiveCount * VisibilityTimeout).
	BackoffFactor float64

	AttributeNames        []types.MessageSystemAttributeName
	MessageAttributeNames []string
}

// OptionsFromConfig copies the SQS polling settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WaitTimeSeconds:   cfg.SQSWaitTimeSeconds,
		MaxMessages:       cfg.SQSMaxMessages,
		VisibilityTimeout: cfg.SQSVisibilityTimeout,
		BackoffFactor:     cfg.SQSBackoffFactor,
	}
}

func (o Options) withDefaults() Options {
	if o.WaitTimeSeconds <= 0 {
		o.WaitTimeSeconds = config.DefaultSQSWaitTimeSeconds
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = config.DefaultSQSMaxMessages
	}
	if o.BackoffFactor > 0 &&
		!slices.Contains(o.AttributeNames, types.MessageSystemAttributeNameApproximateReceiveCount) &&
		!slices.Contains(o.AttributeNames, types.MessageSystemAttributeNameAll) {
		o.AttributeNames = append(slices.Clone(o.AttributeNames), types.MessageSystemAttributeNameApproximateReceiveCount)
	}
	return o
}

// Provider fetches types.Message values from one queue. Confirming deletes
// the message; a message not processed is left to reappear, after a backoff
// when BackoffFactor is set.
type Provider struct {
	client  Client
	queue   string
	options Options
	urls    *queueURLs
	logger  loggingpkg.ServiceLogger
}

// NewProvider builds a provider for queue, given as a name or a URL.
func NewProvider(client Client, queue string, opts Options, logger loggingpkg.ServiceLogger) (*Provider, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if queue == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	return &Provider{
		client:  client,
		queue:   queue,
		options: opts.withDefaults(),
		urls:    newQueueURLs(client),
		logger:  loggingpkg.OrDiscard(logger).With(loggingpkg.LogFields{"queue": QueueName(queue)}),
	}, nil
}

func (p *Provider) String() string {
	return fmt.Sprintf("<sqs.Provider: %s>", QueueName(p.queue))
}

// FetchMessages long-polls the queue once.
func (p *Provider) FetchMessages(ctx context.Context) ([]runtime.Message, error) {
	p.logger.Trace("Fetching messages", nil)

	url, err := p.urls.resolve(ctx, p.queue)
	if err != nil {
		return nil, fmt.Errorf("resolve queue %q: %w", p.queue, err)
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(url),
		MaxNumberOfMessages:         p.options.MaxMessages,
		WaitTimeSeconds:             p.options.WaitTimeSeconds,
		MessageSystemAttributeNames: p.options.AttributeNames,
		MessageAttributeNames:       p.options.MessageAttributeNames,
	}
	if p.options.VisibilityTimeout > 0 {
		input.VisibilityTimeout = p.options.VisibilityTimeout
	}

	out, err := p.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive from queue %q: %w", QueueName(p.queue), err)
	}

	msgs := make([]runtime.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// ConfirmMessage deletes the message. A 404 means it is already gone.
func (p *Provider) ConfirmMessage(ctx context.Context, msg runtime.Message) error {
	m, err := asMessage(msg)
	if err != nil {
		return err
	}
	p.logger.Debug("Confirming message", loggingpkg.LogFields{"message_id": aws.ToString(m.MessageId)})

	url, err := p.urls.resolve(ctx, p.queue)
	if err != nil {
		return fmt.Errorf("resolve queue %q: %w", p.queue, err)
	}
	_, err = p.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// MessageNotProcessed leaves the message for redelivery. With a backoff
// factor the visibility timeout grows with the receive count.
func (p *Provider) MessageNotProcessed(ctx context.Context, msg runtime.Message) error {
	if p.options.BackoffFactor <= 0 {
		return nil
	}
	m, err := asMessage(msg)
	if err != nil {
		return err
	}

	timeout := p.backoffVisibility(m)
	p.logger.Info("Message not processed", loggingpkg.LogFields{
		"message_id":         aws.ToString(m.MessageId),
		"visibility_timeout": timeout,
	})

	url, err := p.urls.resolve(ctx, p.queue)
	if err != nil {
		return fmt.Errorf("resolve queue %q: %w", p.queue, err)
	}
	_, err = p.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     m.ReceiptHandle,
		VisibilityTimeout: timeout,
	})
	if err != nil {
		return fmt.Errorf("change message visibility: %w", err)
	}
	return nil
}

func (p *Provider) backoffVisibility(m types.Message) int32 {
	tries, err := strconv.Atoi(m.Attributes[ReceiveCountAttribute])
	if err != nil || tries < 1 {
		tries = 1
	}
	base := p.options.VisibilityTimeout
	if base <= 0 {
		base = config.DefaultSQSVisibilityTimeout
	}
	timeout := math.Round(runtime.CalculateBackoffMultiplier(tries, p.options.BackoffFactor) * float64(base))
	// SQS caps visibility at 12 hours.
	return int32(min(timeout, maxVisibilityTimeout))
}

const maxVisibilityTimeout = 43200

func (p *Provider) Stop() {
	p.logger.Info("Stopping provider", nil)
}

func asMessage(msg runtime.Message) (types.Message, error) {
	switch m := msg.(type) {
	case types.Message:
		return m, nil
	case *types.Message:
		if m != nil {
			return *m, nil
		}
	}
	return types.Message{}, fmt.Errorf("sqs: unexpected message type %T", msg)
}

func isNotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
