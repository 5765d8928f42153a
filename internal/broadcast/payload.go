package broadcast

import (
	"encoding/json"
	"time"
)

// Envelope is the wire shape shared by every push topic and its pull mirror.
// Keeping one shape on both paths makes the poll fallback lossless in content.
type Envelope struct {
	Topic     Topic           `json:"topic"`
	EmittedAt time.Time       `json:"emitted_at"`
	Data      json.RawMessage `json:"data"`
}

// Marshal encodes a topic payload into its envelope.
func Marshal(topic Topic, at time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Topic: topic, EmittedAt: at.UTC(), Data: raw})
}
