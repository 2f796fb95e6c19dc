package messaging

import (
	"encoding/json"

	"github.com/queuerate/queuerate-go/contracts"
)

// EnvelopeCodec serializes commands and replies to and from the JSON wire
// format. The codec is mode-aware: legacy command envelopes must carry the
// operation name in the command field, prefixed envelopes must not rely on
// it.
type EnvelopeCodec struct {
	mode NamingMode
}

// NewEnvelopeCodec creates a codec for the given naming mode.
func NewEnvelopeCodec(mode NamingMode) *EnvelopeCodec {
	return &EnvelopeCodec{mode: mode}
}

// EncodeCommand serializes a command envelope. In legacy mode the operation
// name is written into the command field; in prefixed mode the field is
// omitted because the target queue already identifies the operation.
func (c *EnvelopeCodec) EncodeCommand(operation string, data map[string]interface{}, correlationID string) ([]byte, error) {
	env := contracts.CommandEnvelope{
		Data:          data,
		CorrelationID: correlationID,
	}
	if c.mode.IsLegacy() {
		env.Command = operation
	}
	if env.Data == nil {
		env.Data = map[string]interface{}{}
	}
	return json.Marshal(&env)
}

// DecodeCommand parses a command envelope. A missing data field, a missing
// command field in legacy mode, or an unparseable body produce a
// MalformedEnvelopeError. In prefixed mode a command field is ignored: the
// queue, not the payload, decides routing.
func (c *EnvelopeCodec) DecodeCommand(body []byte) (*contracts.CommandEnvelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &contracts.MalformedEnvelopeError{Reason: "body is not a JSON object", Err: err}
	}
	if _, ok := fields["data"]; !ok {
		return nil, &contracts.MalformedEnvelopeError{Reason: "missing required field \"data\""}
	}
	if c.mode.IsLegacy() {
		if _, ok := fields["command"]; !ok {
			return nil, &contracts.MalformedEnvelopeError{Reason: "missing required field \"command\""}
		}
	}

	var env contracts.CommandEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &contracts.MalformedEnvelopeError{Reason: "invalid envelope fields", Err: err}
	}
	if !c.mode.IsLegacy() {
		env.Command = ""
	}
	return &env, nil
}

// EncodeReply serializes a reply envelope carrying either a result value or
// an error description, never both.
func (c *EnvelopeCodec) EncodeReply(correlationID string, result interface{}, replyErr *contracts.ReplyError) ([]byte, error) {
	env := contracts.ReplyEnvelope{
		CorrelationID: correlationID,
		Error:         replyErr,
	}
	if replyErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		env.Result = raw
	}
	return json.Marshal(&env)
}

// DecodeReply parses a reply envelope. A missing correlation_id field or an
// unparseable body produce a MalformedEnvelopeError.
func (c *EnvelopeCodec) DecodeReply(body []byte) (*contracts.ReplyEnvelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &contracts.MalformedEnvelopeError{Reason: "body is not a JSON object", Err: err}
	}
	if _, ok := fields["correlation_id"]; !ok {
		return nil, &contracts.MalformedEnvelopeError{Reason: "missing required field \"correlation_id\""}
	}

	var env contracts.ReplyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &contracts.MalformedEnvelopeError{Reason: "invalid envelope fields", Err: err}
	}
	return &env, nil
}
