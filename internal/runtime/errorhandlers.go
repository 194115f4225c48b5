package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
	idspkg "github.com/drblury/workerflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/workerflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

// Metadata keys set on poison queue messages.
const (
	PoisonRouteKey     = "workerflow_route"
	PoisonErrorKey     = "workerflow_error"
	PoisonErrorTypeKey = "workerflow_error_type"
	PoisonCategoryKey  = "workerflow_error_category"
)

// PoisonPayload is the JSON body published for a failed message.
type PoisonPayload struct {
	Route     string    `json:"route"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"`
	Category  string    `json:"category"`
	Message   any       `json:"message"`
	FailedAt  time.Time `json:"failed_at"`
}

// PoisonQueueErrorHandler publishes failed messages to a topic and then
// acknowledges them. If publishing fails the message is left for
// redelivery.
type PoisonQueueErrorHandler struct {
	publisher message.Publisher
	topic     string
	route     string
	filter    func(error) bool
	logger    loggingpkg.ServiceLogger
}

// PoisonQueueOption customises a PoisonQueueErrorHandler.
type PoisonQueueOption func(*PoisonQueueErrorHandler)

// WithPoisonRoute records the route name in published payloads.
func WithPoisonRoute(name string) PoisonQueueOption {
	return func(h *PoisonQueueErrorHandler) { h.route = name }
}

// WithPoisonFilter limits poisoning to errors accepted by filter. Other
// errors are left for redelivery.
func WithPoisonFilter(filter func(error) bool) PoisonQueueOption {
	return func(h *PoisonQueueErrorHandler) { h.filter = filter }
}

func WithPoisonLogger(logger loggingpkg.ServiceLogger) PoisonQueueOption {
	return func(h *PoisonQueueErrorHandler) { h.logger = logger }
}

func NewPoisonQueueErrorHandler(publisher message.Publisher, topic string, opts ...PoisonQueueOption) (*PoisonQueueErrorHandler, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	h := &PoisonQueueErrorHandler{publisher: publisher, topic: topic}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = loggingpkg.OrDiscard(h.logger)
	return h, nil
}

func (h *PoisonQueueErrorHandler) HandleError(ctx context.Context, ec ErrorContext, msg Message) bool {
	if h.filter != nil && !h.filter(ec.Err) {
		return false
	}

	category := string(Categorize(ec.Err))
	body, err := jsoncodec.Marshal(PoisonPayload{
		Route:     h.route,
		Error:     ec.Error(),
		ErrorType: ec.Type,
		Category:  category,
		Message:   poisonableMessage(msg),
		FailedAt:  time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("Failed to encode poison message", err, loggingpkg.LogFields{"topic": h.topic})
		return false
	}

	out := message.NewMessage(idspkg.New(), body)
	out.SetContext(ctx)
	out.Metadata.Set(PoisonRouteKey, h.route)
	out.Metadata.Set(PoisonErrorKey, ec.Error())
	out.Metadata.Set(PoisonErrorTypeKey, ec.Type)
	out.Metadata.Set(PoisonCategoryKey, category)

	if err := h.publisher.Publish(h.topic, out); err != nil {
		h.logger.Error("Failed to publish poison message", err, loggingpkg.LogFields{"topic": h.topic})
		return false
	}
	h.logger.Info("Message moved to poison queue", loggingpkg.LogFields{
		"topic":        h.topic,
		"message_uuid": out.UUID,
		"route":        h.route,
	})
	return true
}

// poisonableMessage returns msg in a form the JSON codec can encode.
func poisonableMessage(msg Message) any {
	switch m := msg.(type) {
	case *message.Message:
		return map[string]any{
			"uuid":     m.UUID,
			"payload":  string(m.Payload),
			"metadata": m.Metadata,
		}
	case []byte:
		return string(m)
	}
	if _, err := jsoncodec.Marshal(msg); err != nil {
		return fmt.Sprintf("%v", msg)
	}
	return msg
}

// LoggingErrorHandler logs the failure and answers the given ack for every
// message.
func LoggingErrorHandler(logger loggingpkg.ServiceLogger, ack bool) ErrorHandler {
	logger = loggingpkg.OrDiscard(logger)
	return ErrorHandlerFunc(func(_ context.Context, ec ErrorContext, msg Message) bool {
		logger.Error("Delivery failed", ec.Err, loggingpkg.LogFields{
			"error_type": ec.Type,
			"message":    msg,
			"ack":        ack,
			"stack":      string(ec.Stack),
		})
		return ack
	})
}
