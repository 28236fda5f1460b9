package store

import "encoding/json"

// envelope wraps every persisted payload with its schema version. Readers
// treat an unknown or mismatched version as "no data" and fall back to
// defaults; persisted state is a cache of in-memory truth, never the
// other way around.
type envelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
}

// MarshalEnvelope wraps payload in a versioned envelope.
func MarshalEnvelope(version int, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{SchemaVersion: version, Payload: raw})
}

// UnmarshalEnvelope decodes data into payload if the envelope carries the
// expected schema version. It reports whether payload was populated; malformed
// data or a version mismatch reads as absent, never as an error.
func UnmarshalEnvelope(data json.RawMessage, version int, payload any) bool {
	if len(data) == 0 {
		return false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	if env.SchemaVersion != version || len(env.Payload) == 0 {
		return false
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return false
	}
	return true
}
