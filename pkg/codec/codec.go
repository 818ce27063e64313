// Package codec is the Serialization Layer: forward/backward-compatible
// JSON codecs for every durable entity the Coordination Store Client
// persists. The compatibility rules (§4.4) are: adding a new optional
// field is always safe; removing a field requires first releasing a
// version that stops reading it and only then one that stops writing
// it; changing the format or meaning of an existing field is forbidden.
//
// Plain struct-tagged JSON already gives us rule one for free — an
// unknown field in older code is ignored by encoding/json, and a field
// absent from newer data decodes to its zero value. This package exists
// to make that guarantee explicit and testable, and to carry the
// version marker every persisted document needs so a later rule-two
// migration has somewhere to branch.
package codec

import "encoding/json"

// Envelope wraps a durable entity with an explicit schema version. The
// version is informational: the decoder that follows never branches on
// it to reinterpret a field's meaning (forbidden, per the rules above);
// it exists only so an operator or migration job can tell which
// controller version last wrote a document.
type Envelope struct {
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// CurrentVersion is the schema version this build writes.
const CurrentVersion = 1

// Encode wraps v in an Envelope at CurrentVersion and serializes it.
func Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Version: CurrentVersion, Payload: payload})
}

// Decode unwraps an Envelope and deserializes its payload into v. Extra
// fields present in the payload (written by a newer controller) are
// silently ignored, and fields absent (written by an older one) decode
// to their zero value — this is rule one of the compatibility contract.
func Decode(data []byte, v any) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Payload, v)
}
