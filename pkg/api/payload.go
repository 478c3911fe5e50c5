package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

type (
	// Schema tags the shape of a Payload's data
	Schema string

	// Payload is a tagged JSON value. Step results, program inputs and
	// outputs, and callback resolutions all travel as Payloads
	Payload struct {
		Schema Schema          `json:"schema,omitempty"`
		Data   json.RawMessage `json:"data"`
	}

	// Approval is the canonical resolution of an approval callback
	Approval struct {
		Approved bool `json:"approved"`
	}
)

const (
	// SchemaJSON tags untyped JSON data
	SchemaJSON Schema = "json"

	// SchemaApproval tags an Approval
	SchemaApproval Schema = "approval/v1"
)

// NewPayload marshals v as the data of a Payload tagged with schema
func NewPayload(schema Schema, v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Schema: schema, Data: data}, nil
}

// MustPayload is NewPayload for values known to marshal
func MustPayload(schema Schema, v any) Payload {
	p, err := NewPayload(schema, v)
	if err != nil {
		panic(err)
	}
	return p
}

// NewApproval builds the canonical approval resolution payload
func NewApproval(approved bool) Payload {
	return MustPayload(SchemaApproval, Approval{Approved: approved})
}

// Decode unmarshals the payload data into v
func (p Payload) Decode(v any) error {
	if len(p.Data) == 0 {
		return ValidationError("payload has no data")
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// Equal reports whether two payloads carry the same schema and the same JSON
// value, ignoring insignificant whitespace
func (p Payload) Equal(other Payload) bool {
	if p.Schema != other.Schema {
		return false
	}
	return bytes.Equal(compactJSON(p.Data), compactJSON(other.Data))
}

// IsZero reports whether the payload carries no data
func (p Payload) IsZero() bool {
	return p.Schema == "" && len(p.Data) == 0
}

// Validate checks that the payload data is well-formed JSON
func (p Payload) Validate() error {
	if len(p.Data) == 0 {
		return ValidationError("payload has no data")
	}
	if !gjson.ValidBytes(p.Data) {
		return ValidationError("payload data is not valid JSON")
	}
	return nil
}

// DecodeApproval extracts an Approval, requiring a boolean approved field.
// Payloads carrying another non-empty schema are rejected
func DecodeApproval(p Payload) (Approval, error) {
	if p.Schema != "" && p.Schema != SchemaApproval &&
		p.Schema != SchemaJSON {
		return Approval{}, ValidationError(
			"expected schema %s, got %s", SchemaApproval, p.Schema,
		)
	}
	if err := p.Validate(); err != nil {
		return Approval{}, err
	}
	res := gjson.GetBytes(p.Data, "approved")
	if !res.Exists() {
		return Approval{}, ValidationError("approval is missing approved")
	}
	if res.Type != gjson.True && res.Type != gjson.False {
		return Approval{}, ValidationError(
			"approved must be a boolean, got %s", res.Type,
		)
	}
	return Approval{Approved: res.Bool()}, nil
}

func compactJSON(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return data
	}
	return buf.Bytes()
}
