package domain

import "encoding/json"

// PayloadEncodingHeader marks a response whose envelope data is a sealed
// payload. Clients prefer it over sniffing the data field's type.
const (
	PayloadEncodingHeader = "X-Payload-Encoding"
	PayloadEncodingFernet = "fernet"
)

// Envelope is the {status, data, message} wrapper used in both directions.
// Data is either an encoded payload string or the business value itself.
type Envelope struct {
	Status  bool            `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// DataString returns the data field as a string when it is a JSON string.
func (e *Envelope) DataString() (string, bool) {
	if len(e.Data) == 0 || e.Data[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return "", false
	}
	return s, true
}
