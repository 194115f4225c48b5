package sqs

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/drblury/workerflow/internal/runtime"
	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/workerflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

const snsARNPrefix = "arn:aws:sns:"

// Encoder renders content as a message body.
type Encoder func(content any) (string, error)

// JSONEncoder is the default Encoder.
func JSONEncoder(content any) (string, error) {
	return jsoncodec.MarshalString(content)
}

// RawEncoder sends strings and byte slices as they are and JSON-encodes
// anything else.
func RawEncoder(content any) (string, error) {
	switch c := content.(type) {
	case string:
		return c, nil
	case []byte:
		return string(c), nil
	default:
		return JSONEncoder(content)
	}
}

// Publisher sends content to an SQS queue. As a runtime.Handler it forwards
// every message it receives and confirms it once sent.
type Publisher struct {
	client  Client
	queue   string
	urls    *queueURLs
	encoder Encoder
	logger  loggingpkg.ServiceLogger
}

var _ runtime.Handler = (*Publisher)(nil)

// NewPublisher builds a publisher for queue (name or URL). A nil encoder
// means JSONEncoder.
func NewPublisher(client Client, queue string, encoder Encoder, logger loggingpkg.ServiceLogger) (*Publisher, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if queue == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	if encoder == nil {
		encoder = JSONEncoder
	}
	return &Publisher{
		client:  client,
		queue:   queue,
		urls:    newQueueURLs(client),
		encoder: encoder,
		logger:  loggingpkg.OrDiscard(logger),
	}, nil
}

// Publish encodes content and sends it, returning the SQS message ID.
func (p *Publisher) Publish(ctx context.Context, content any) (string, error) {
	body, err := p.encoder(content)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	url, err := p.urls.resolve(ctx, p.queue)
	if err != nil {
		return "", fmt.Errorf("resolve queue %q: %w", p.queue, err)
	}

	p.logger.Debug("Publishing message", loggingpkg.LogFields{"queue": QueueName(p.queue), "message": body})
	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("send message to %q: %w", QueueName(p.queue), err)
	}
	return aws.ToString(out.MessageId), nil
}

func (p *Publisher) Handle(ctx context.Context, content any, _ runtime.Metadata) (bool, error) {
	if _, err := p.Publish(ctx, content); err != nil {
		return false, err
	}
	return true, nil
}

// SNSPublisher sends content to an SNS topic wrapped in a {"default": ...}
// message structure. As a runtime.Handler it forwards every message it
// receives.
type SNSPublisher struct {
	client   SNSClient
	topicARN string
	encoder  Encoder
	logger   loggingpkg.ServiceLogger
}

var _ runtime.Handler = (*SNSPublisher)(nil)

// NewSNSPublisher builds a publisher for topic, given as an ARN or a name.
// Names are expanded with TopicARN.
func NewSNSPublisher(client SNSClient, topic, region, accountID string, encoder Encoder, logger loggingpkg.ServiceLogger) (*SNSPublisher, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if encoder == nil {
		encoder = JSONEncoder
	}
	return &SNSPublisher{
		client:   client,
		topicARN: TopicARN(topic, region, accountID),
		encoder:  encoder,
		logger:   loggingpkg.OrDiscard(logger),
	}, nil
}

// TopicARN returns topic when it already is an ARN. Otherwise it builds one
// from region and account, using "*" for the part that is unknown.
func TopicARN(topic, region, accountID string) string {
	if strings.HasPrefix(topic, snsARNPrefix) {
		return topic
	}
	if region == "" || accountID == "" {
		return snsARNPrefix + "*:" + topic
	}
	return snsARNPrefix + region + ":" + accountID + ":" + topic
}

func (p *SNSPublisher) TopicARN() string { return p.topicARN }

// Publish encodes content and publishes it, returning the SNS message ID.
func (p *SNSPublisher) Publish(ctx context.Context, content any) (string, error) {
	body, err := p.encoder(content)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	structured, err := jsoncodec.MarshalString(map[string]string{"default": body})
	if err != nil {
		return "", fmt.Errorf("encode message structure: %w", err)
	}

	p.logger.Debug("Publishing message", loggingpkg.LogFields{"topic": p.topicARN, "message": body})
	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:         aws.String(p.topicARN),
		MessageStructure: aws.String("json"),
		Message:          aws.String(structured),
	})
	if err != nil {
		return "", fmt.Errorf("publish to %q: %w", p.topicARN, err)
	}
	return aws.ToString(out.MessageId), nil
}

func (p *SNSPublisher) Handle(ctx context.Context, content any, _ runtime.Metadata) (bool, error) {
	if _, err := p.Publish(ctx, content); err != nil {
		return false, err
	}
	return true, nil
}
