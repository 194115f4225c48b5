// Package sqs reads from and publishes to Amazon SQS (and SNS) directly with
// the AWS SDK: a Provider with exponential visibility backoff, translators
// for raw SQS and SNS-over-SQS bodies, publishing handlers and route
// constructors.
package sqs

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/drblury/workerflow/transport"
	awstransport "github.com/drblury/workerflow/transport/aws"
)

// Client is the part of the SQS API used here. *sqs.Client satisfies it.
type Client interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SNSClient is the part of the SNS API used by SNSPublisher.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewClient and NewSNSClient build SDK clients. Replaced in tests.
var (
	NewClient = func(cfg aws.Config) Client {
		return sqs.NewFromConfig(cfg)
	}
	NewSNSClient = func(cfg aws.Config) SNSClient {
		return sns.NewFromConfig(cfg)
	}
)

// LoadClient builds an SQS client from the AWS settings in cfg.
func LoadClient(ctx context.Context, cfg transport.Config) (Client, error) {
	awsCfg, err := awstransport.LoadConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(awsCfg), nil
}

// LoadSNSClient builds an SNS client from the AWS settings in cfg.
func LoadSNSClient(ctx context.Context, cfg transport.Config) (SNSClient, error) {
	awsCfg, err := awstransport.LoadConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewSNSClient(awsCfg), nil
}

// queueURLs resolves queue names to URLs once. A full URL is accepted as is
// and cached under its last path segment.
type queueURLs struct {
	client Client

	mu   sync.Mutex
	urls map[string]string
}

func newQueueURLs(client Client) *queueURLs {
	return &queueURLs{client: client, urls: make(map[string]string)}
}

func (q *queueURLs) resolve(ctx context.Context, queue string) (string, error) {
	name := queue
	if strings.HasPrefix(queue, "http://") || strings.HasPrefix(queue, "https://") {
		name = QueueName(queue)
		q.mu.Lock()
		q.urls[name] = queue
		q.mu.Unlock()
		return queue, nil
	}

	q.mu.Lock()
	url, ok := q.urls[name]
	q.mu.Unlock()
	if ok {
		return url, nil
	}

	out, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", err
	}
	url = aws.ToString(out.QueueUrl)

	q.mu.Lock()
	q.urls[name] = url
	q.mu.Unlock()
	return url, nil
}

// QueueName returns the last path segment of a queue URL, or queue itself.
func QueueName(queue string) string {
	if i := strings.LastIndex(queue, "/"); i >= 0 && strings.Contains(queue, "://") {
		return queue[i+1:]
	}
	return queue
}
