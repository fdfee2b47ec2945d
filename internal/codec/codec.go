// Package codec defines the wire encoding for remote-control RPC
// content carried inside ws-connection messages; the framing layer
// itself is content-agnostic. The default implementation uses
// github.com/fxamacker/cbor/v2, with a JSON fallback for debugging and
// inspection.
package codec

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes and decodes the logical payload carried by one
// ws-connection message.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// CBOR is the default Codec.
type CBOR struct{}

func (CBOR) Encode(v any) ([]byte, error) { return cbor.Marshal(v) }
func (CBOR) Decode(data []byte, v any) error { return cbor.Unmarshal(data, v) }

// JSON is a human-readable fallback, useful when inspecting traffic
// during development.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) { return json.Marshal(v) }
func (JSON) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
