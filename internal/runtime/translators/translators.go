// Package translators holds message translators for the raw message shapes
// produced by the bundled providers: byte slices, strings, watermill
// messages and NATS messages.
package translators

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/workerflow/internal/runtime"
	jsoncodec "github.com/drblury/workerflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/workerflow/internal/runtime/metadata"
)

// Metadata keys set by the translators.
const (
	MessageUUIDKey = "message_uuid"
	SubjectKey     = "subject"
)

// ErrUnsupportedMessage is returned for raw messages with no known payload.
var ErrUnsupportedMessage = errors.New("translators: unsupported message type")

// Payload extracts the body and the transport metadata of a raw message.
func Payload(msg runtime.Message) ([]byte, runtime.Metadata, error) {
	switch m := msg.(type) {
	case []byte:
		return m, metadatapkg.Metadata{}, nil
	case string:
		return []byte(m), metadatapkg.Metadata{}, nil
	case *message.Message:
		md := metadatapkg.FromWatermill(m.Metadata).With(MessageUUIDKey, m.UUID)
		return m.Payload, md, nil
	case *nats.Msg:
		md := metadatapkg.Metadata{SubjectKey: m.Subject}
		for key := range m.Header {
			md[key] = m.Header.Get(key)
		}
		return m.Data, md, nil
	default:
		return nil, nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, msg)
	}
}

// String passes the payload through as a string.
var String runtime.Translator = runtime.TranslatorFunc(func(msg runtime.Message) (runtime.TranslatedMessage, error) {
	data, md, err := Payload(msg)
	if err != nil {
		return runtime.TranslatedMessage{}, err
	}
	return runtime.TranslatedMessage{Content: string(data), Metadata: md}, nil
})

// JSON decodes the payload into generic JSON values (maps, slices, strings,
// float64s...).
var JSON runtime.Translator = JSONInto[any]()

// JSONInto decodes the payload into a T. Handlers receive T, not *T.
func JSONInto[T any]() runtime.Translator {
	return runtime.TranslatorFunc(func(msg runtime.Message) (runtime.TranslatedMessage, error) {
		data, md, err := Payload(msg)
		if err != nil {
			return runtime.TranslatedMessage{}, err
		}
		var content T
		if err := jsoncodec.Unmarshal(data, &content); err != nil {
			return runtime.TranslatedMessage{}, fmt.Errorf("decode json payload: %w", err)
		}
		return runtime.TranslatedMessage{Content: content, Metadata: md}, nil
	})
}

// Proto decodes a protojson payload into a new T, for example
// Proto[*orderv1.OrderPlaced]().
func Proto[T proto.Message]() runtime.Translator {
	return runtime.TranslatorFunc(func(msg runtime.Message) (runtime.TranslatedMessage, error) {
		data, md, err := Payload(msg)
		if err != nil {
			return runtime.TranslatedMessage{}, err
		}
		var zero T
		content, ok := zero.ProtoReflect().Type().New().Interface().(T)
		if !ok {
			return runtime.TranslatedMessage{}, fmt.Errorf("translators: cannot instantiate %T", zero)
		}
		if err := protojson.Unmarshal(data, content); err != nil {
			return runtime.TranslatedMessage{}, fmt.Errorf("decode proto payload: %w", err)
		}
		md = md.With(SchemaKey, string(content.ProtoReflect().Descriptor().FullName()))
		return runtime.TranslatedMessage{Content: content, Metadata: md}, nil
	})
}

// SchemaKey records the protobuf message name decoded by Proto.
const SchemaKey = "event_message_schema"
