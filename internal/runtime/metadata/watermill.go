package metadata

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill converts Watermill metadata into message metadata.
func FromWatermill(md message.Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}
	converted := make(Metadata, len(md))
	for k, v := range md {
		converted[k] = v
	}
	return converted
}

// ToWatermill converts metadata into a Watermill header map. Non-string
// values are rendered with fmt.
func ToWatermill(md Metadata) message.Metadata {
	converted := make(message.Metadata, len(md))
	for k, v := range md {
		switch value := v.(type) {
		case string:
			converted[k] = value
		case nil:
			converted[k] = ""
		default:
			converted[k] = fmt.Sprint(value)
		}
	}
	return converted
}
