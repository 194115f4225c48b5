package sqs

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/drblury/workerflow/internal/runtime"
	jsoncodec "github.com/drblury/workerflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/workerflow/internal/runtime/metadata"
)

// Metadata keys copied from the SQS envelope.
const (
	MessageIDKey         = "MessageId"
	ReceiptHandleKey     = "ReceiptHandle"
	MD5OfBodyKey         = "MD5OfBody"
	AttributesKey        = "Attributes"
	MessageAttributesKey = "MessageAttributes"
)

var (
	ErrMissingBody       = errors.New("sqs: message has no body")
	ErrMissingSNSMessage = errors.New("sqs: body is not an SNS notification")
)

// Translator decodes the JSON body of an SQS message. The envelope fields
// become metadata.
var Translator runtime.Translator = runtime.TranslatorFunc(translateSQS)

// SNSTranslator decodes SNS notifications delivered through an SQS
// subscription: the content is the JSON inside the notification's Message
// field, and the remaining notification fields (TopicArn, Timestamp...) are
// merged over the SQS envelope metadata.
var SNSTranslator runtime.Translator = runtime.TranslatorFunc(translateSNS)

func translateSQS(msg runtime.Message) (runtime.TranslatedMessage, error) {
	m, err := asMessage(msg)
	if err != nil {
		return runtime.TranslatedMessage{}, err
	}
	if m.Body == nil {
		return runtime.TranslatedMessage{}, ErrMissingBody
	}

	var content any
	if err := jsoncodec.UnmarshalString(*m.Body, &content); err != nil {
		return runtime.TranslatedMessage{}, fmt.Errorf("decode sqs body: %w", err)
	}
	return runtime.TranslatedMessage{Content: content, Metadata: envelope(m)}, nil
}

func translateSNS(msg runtime.Message) (runtime.TranslatedMessage, error) {
	m, err := asMessage(msg)
	if err != nil {
		return runtime.TranslatedMessage{}, err
	}
	if m.Body == nil {
		return runtime.TranslatedMessage{}, ErrMissingBody
	}

	var notification map[string]any
	if err := jsoncodec.UnmarshalString(*m.Body, &notification); err != nil {
		return runtime.TranslatedMessage{}, fmt.Errorf("decode sns notification: %w", err)
	}
	inner, ok := notification["Message"].(string)
	if !ok {
		return runtime.TranslatedMessage{}, ErrMissingSNSMessage
	}
	delete(notification, "Message")

	var content any
	if err := jsoncodec.UnmarshalString(inner, &content); err != nil {
		return runtime.TranslatedMessage{}, fmt.Errorf("decode sns message: %w", err)
	}
	return runtime.TranslatedMessage{
		Content:  content,
		Metadata: envelope(m).WithAll(notification),
	}, nil
}

func envelope(m types.Message) metadatapkg.Metadata {
	md := metadatapkg.Metadata{
		MessageIDKey:     aws.ToString(m.MessageId),
		ReceiptHandleKey: aws.ToString(m.ReceiptHandle),
	}
	if m.MD5OfBody != nil {
		md[MD5OfBodyKey] = *m.MD5OfBody
	}
	if len(m.Attributes) > 0 {
		md[AttributesKey] = m.Attributes
	}
	if len(m.MessageAttributes) > 0 {
		attrs := make(map[string]string, len(m.MessageAttributes))
		for key, value := range m.MessageAttributes {
			attrs[key] = aws.ToString(value.StringValue)
		}
		md[MessageAttributesKey] = attrs
	}
	return md
}
