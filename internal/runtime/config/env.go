package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the default prefix read by FromEnv.
const EnvPrefix = "WORKERFLOW"

// FromEnv starts from Default and overrides every field whose
// PREFIX_<NAME> variable is set, for example WORKERFLOW_WORKERS=8.
// Malformed values are collected and returned together.
func FromEnv(prefix string) (Config, error) {
	return fromLookup(prefix, os.LookupEnv)
}

type envReader struct {
	prefix string
	lookup func(string) (string, bool)
	errs   []error
}

func fromLookup(prefix string, lookup func(string) (string, bool)) (Config, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	r := &envReader{prefix: strings.TrimSuffix(prefix, "_") + "_", lookup: lookup}
	cfg := Default()

	r.int("QUEUE_SIZE", &cfg.QueueSize)
	r.int("WORKERS", &cfg.Workers)
	r.bool("FOREVER", &cfg.Forever)
	r.bool("DEBUG", &cfg.Debug)
	r.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	r.string("LOG_FORMAT", &cfg.LogFormat)
	r.string("LOG_LEVEL", &cfg.LogLevel)

	r.string("PUBSUB_SYSTEM", &cfg.PubSubSystem)
	r.list("KAFKA_BROKERS", &cfg.KafkaBrokers)
	r.string("KAFKA_CONSUMER_GROUP", &cfg.KafkaConsumerGroup)
	r.string("RABBITMQ_URL", &cfg.RabbitMQURL)
	r.string("NATS_URL", &cfg.NATSURL)
	r.string("JETSTREAM_STREAM", &cfg.JetStreamStream)
	r.string("JETSTREAM_DURABLE", &cfg.JetStreamDurable)
	r.int("JETSTREAM_BATCH_SIZE", &cfg.JetStreamBatchSize)
	r.string("HTTP_SERVER_ADDRESS", &cfg.HTTPServerAddress)
	r.string("HTTP_PUBLISHER_URL", &cfg.HTTPPublisherURL)

	r.string("AWS_REGION", &cfg.AWSRegion)
	r.string("AWS_ACCOUNT_ID", &cfg.AWSAccountID)
	r.string("AWS_ACCESS_KEY_ID", &cfg.AWSAccessKeyID)
	r.string("AWS_SECRET_ACCESS_KEY", &cfg.AWSSecretAccessKey)
	r.string("AWS_ENDPOINT", &cfg.AWSEndpoint)

	r.int32("SQS_WAIT_TIME_SECONDS", &cfg.SQSWaitTimeSeconds)
	r.int32("SQS_MAX_MESSAGES", &cfg.SQSMaxMessages)
	r.int32("SQS_VISIBILITY_TIMEOUT", &cfg.SQSVisibilityTimeout)
	r.float("SQS_BACKOFF_FACTOR", &cfg.SQSBackoffFactor)

	r.string("POISON_QUEUE", &cfg.PoisonQueue)
	r.string("RETRY_TOPIC", &cfg.RetryTopic)

	r.bool("METRICS_ENABLED", &cfg.MetricsEnabled)
	r.int("METRICS_PORT", &cfg.MetricsPort)

	return cfg, errors.Join(r.errs...)
}

func (r *envReader) get(name string) (string, bool) {
	v, ok := r.lookup(r.prefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) fail(name, value string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s%s=%q: %w", r.prefix, name, value, err))
}

func (r *envReader) string(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = v
	}
}

func (r *envReader) list(name string, dst *[]string) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (r *envReader) int(name string, dst *int) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(name, v, err)
		return
	}
	*dst = n
}

func (r *envReader) int32(name string, dst *int32) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		r.fail(name, v, err)
		return
	}
	*dst = int32(n)
}

func (r *envReader) float(name string, dst *float64) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(name, v, err)
		return
	}
	*dst = f
}

func (r *envReader) bool(name string, dst *bool) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		r.fail(name, v, errors.New("not a boolean"))
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(name, v, err)
		return
	}
	*dst = d
}
