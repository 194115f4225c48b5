package translators

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/drblury/workerflow/internal/runtime"
	jsoncodec "github.com/drblury/workerflow/internal/runtime/jsoncodec"
)

// CloudEventsSpecVersion is the only structured-mode version accepted.
const CloudEventsSpecVersion = "1.0"

// CloudEvents attribute keys copied into the translated metadata.
const (
	CEIDKey          = "ce_id"
	CETypeKey        = "ce_type"
	CESourceKey      = "ce_source"
	CESubjectKey     = "ce_subject"
	CETimeKey        = "ce_time"
	CEContentTypeKey = "ce_datacontenttype"
	CEDataSchemaKey  = "ce_dataschema"
)

// ErrInvalidCloudEvent wraps envelopes missing a required attribute.
var ErrInvalidCloudEvent = errors.New("translators: invalid cloudevent")

var cloudEventAttrs = map[string]string{
	"id":              CEIDKey,
	"type":            CETypeKey,
	"source":          CESourceKey,
	"subject":         CESubjectKey,
	"time":            CETimeKey,
	"datacontenttype": CEContentTypeKey,
	"dataschema":      CEDataSchemaKey,
}

// CloudEvents decodes a structured-mode CloudEvents JSON envelope. Content is
// the decoded "data" member, or the raw bytes of "data_base64". Attributes and
// extensions land in the metadata.
var CloudEvents runtime.Translator = runtime.TranslatorFunc(func(msg runtime.Message) (runtime.TranslatedMessage, error) {
	data, md, err := Payload(msg)
	if err != nil {
		return runtime.TranslatedMessage{}, err
	}

	var envelope map[string]any
	if err := jsoncodec.Unmarshal(data, &envelope); err != nil {
		return runtime.TranslatedMessage{}, fmt.Errorf("decode cloudevent: %w", err)
	}
	if err := validateCloudEvent(envelope); err != nil {
		return runtime.TranslatedMessage{}, err
	}

	md = md.Clone()
	var content any
	for key, value := range envelope {
		switch key {
		case "specversion":
		case "data":
			content = value
		case "data_base64":
			encoded, ok := value.(string)
			if !ok {
				return runtime.TranslatedMessage{}, fmt.Errorf("%w: data_base64 is not a string", ErrInvalidCloudEvent)
			}
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return runtime.TranslatedMessage{}, fmt.Errorf("decode data_base64: %w", err)
			}
			content = raw
		default:
			if mdKey, ok := cloudEventAttrs[key]; ok {
				md[mdKey] = value
				continue
			}
			md[key] = value
		}
	}
	return runtime.TranslatedMessage{Content: content, Metadata: md}, nil
})

func validateCloudEvent(envelope map[string]any) error {
	version, _ := envelope["specversion"].(string)
	if version != CloudEventsSpecVersion {
		return fmt.Errorf("%w: specversion must be %q, got %q", ErrInvalidCloudEvent, CloudEventsSpecVersion, version)
	}
	for _, attr := range []string{"id", "type", "source"} {
		if s, _ := envelope[attr].(string); s == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidCloudEvent, attr)
		}
	}
	return nil
}
