package contracts

import (
	"encoding/json"
)

// CommandEnvelope is the wire form of a command request. In legacy mode the
// Command field names the target operation; in prefixed mode the operation is
// implied by the queue the envelope arrived on and Command stays empty.
type CommandEnvelope struct {
	Command       string                 `json:"command,omitempty"`
	Data          map[string]interface{} `json:"data"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// ReplyError describes a failed command. Sent echoes the request payload that
// triggered the failure when it is known.
type ReplyError struct {
	Message string                 `json:"message"`
	Sent    map[string]interface{} `json:"sent,omitempty"`
}

// ReplyEnvelope is the wire form of a reply. Exactly one of Result and Error
// is populated. Result is kept as raw JSON so values like 0, false, and null
// survive the round trip unchanged.
type ReplyEnvelope struct {
	CorrelationID string          `json:"correlation_id"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *ReplyError     `json:"error,omitempty"`
}

// IsError reports whether the reply carries an error instead of a result.
func (r *ReplyEnvelope) IsError() bool {
	return r.Error != nil
}

// DecodeResult unmarshals the result payload into v.
func (r *ReplyEnvelope) DecodeResult(v interface{}) error {
	return json.Unmarshal(r.Result, v)
}
