package ingest

import (
	"encoding/json"

	"github.com/ryabkov82/target-notion/internal/sink"
)

// MessageType is the "type" tag of a Singer message
type MessageType string

const (
	MessageSchema          MessageType = "SCHEMA"
	MessageRecord          MessageType = "RECORD"
	MessageState           MessageType = "STATE"
	MessageActivateVersion MessageType = "ACTIVATE_VERSION"
)

// Message is one line of the Singer stream. Fields not used by a type stay empty.
type Message struct {
	Type          MessageType     `json:"type"`
	Stream        string          `json:"stream,omitempty"`
	Record        sink.Record     `json:"record,omitempty"`
	Schema        json.RawMessage `json:"schema,omitempty"`
	KeyProperties []string        `json:"key_properties,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
	Version       int64           `json:"version,omitempty"`
}
