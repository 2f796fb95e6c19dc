package messaging

import (
	"encoding/json"
	"testing"

	"github.com/queuerate/queuerate-go/contracts"
	"github.com/stretchr/testify/assert"
)

func TestEncodeCommand(t *testing.T) {
	t.Run("legacy mode writes the command field", func(t *testing.T) {
		mode, _ := LegacyMode("api.jobs")
		codec := NewEnvelopeCodec(mode)

		body, err := codec.EncodeCommand("add", map[string]interface{}{"a": 1.0, "b": 2.0}, "corr-1")

		assert.NoError(t, err)
		var fields map[string]interface{}
		assert.NoError(t, json.Unmarshal(body, &fields))
		assert.Equal(t, "add", fields["command"])
		assert.Equal(t, "corr-1", fields["correlation_id"])
		assert.Equal(t, map[string]interface{}{"a": 1.0, "b": 2.0}, fields["data"])
	})

	t.Run("prefixed mode omits the command field", func(t *testing.T) {
		codec := NewEnvelopeCodec(PrefixedMode("awesome"))

		body, err := codec.EncodeCommand("greet", map[string]interface{}{"name": "Ann"}, "corr-2")

		assert.NoError(t, err)
		var fields map[string]interface{}
		assert.NoError(t, json.Unmarshal(body, &fields))
		assert.NotContains(t, fields, "command")
		assert.Equal(t, "corr-2", fields["correlation_id"])
	})

	t.Run("nil payload encodes as an empty data object", func(t *testing.T) {
		codec := NewEnvelopeCodec(PrefixedMode("awesome"))

		body, err := codec.EncodeCommand("greet", nil, "")

		assert.NoError(t, err)
		var fields map[string]interface{}
		assert.NoError(t, json.Unmarshal(body, &fields))
		assert.Equal(t, map[string]interface{}{}, fields["data"])
		assert.NotContains(t, fields, "correlation_id")
	})
}

func TestDecodeCommand(t *testing.T) {
	legacyMode, _ := LegacyMode("api.jobs")

	t.Run("round trips a legacy envelope", func(t *testing.T) {
		codec := NewEnvelopeCodec(legacyMode)
		body, err := codec.EncodeCommand("add", map[string]interface{}{"a": 1.0}, "corr-1")
		assert.NoError(t, err)

		env, err := codec.DecodeCommand(body)

		assert.NoError(t, err)
		assert.Equal(t, "add", env.Command)
		assert.Equal(t, "corr-1", env.CorrelationID)
		assert.Equal(t, map[string]interface{}{"a": 1.0}, env.Data)
	})

	t.Run("rejects a body that is not JSON", func(t *testing.T) {
		codec := NewEnvelopeCodec(legacyMode)

		_, err := codec.DecodeCommand([]byte("not json"))

		var malformed *contracts.MalformedEnvelopeError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("rejects a missing data field", func(t *testing.T) {
		codec := NewEnvelopeCodec(legacyMode)

		_, err := codec.DecodeCommand([]byte(`{"command":"add"}`))

		var malformed *contracts.MalformedEnvelopeError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("legacy mode rejects a missing command field", func(t *testing.T) {
		codec := NewEnvelopeCodec(legacyMode)

		_, err := codec.DecodeCommand([]byte(`{"data":{}}`))

		var malformed *contracts.MalformedEnvelopeError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("prefixed mode accepts a missing command field", func(t *testing.T) {
		codec := NewEnvelopeCodec(PrefixedMode("awesome"))

		env, err := codec.DecodeCommand([]byte(`{"data":{"name":"Ann"}}`))

		assert.NoError(t, err)
		assert.Empty(t, env.Command)
		assert.Equal(t, map[string]interface{}{"name": "Ann"}, env.Data)
	})

	t.Run("prefixed mode ignores a stray command field", func(t *testing.T) {
		codec := NewEnvelopeCodec(PrefixedMode("awesome"))

		env, err := codec.DecodeCommand([]byte(`{"command":"other","data":{}}`))

		assert.NoError(t, err)
		assert.Empty(t, env.Command)
	})
}

func TestEncodeReply(t *testing.T) {
	codec := NewEnvelopeCodec(PrefixedMode("awesome"))

	t.Run("success reply carries the result", func(t *testing.T) {
		body, err := codec.EncodeReply("corr-1", 3.0, nil)

		assert.NoError(t, err)
		var fields map[string]interface{}
		assert.NoError(t, json.Unmarshal(body, &fields))
		assert.Equal(t, "corr-1", fields["correlation_id"])
		assert.Equal(t, 3.0, fields["result"])
		assert.NotContains(t, fields, "error")
	})

	t.Run("falsy results survive the wire", func(t *testing.T) {
		for _, result := range []interface{}{0.0, false, ""} {
			body, err := codec.EncodeReply("corr-1", result, nil)
			assert.NoError(t, err)

			reply, err := codec.DecodeReply(body)
			assert.NoError(t, err)

			var decoded interface{}
			assert.NoError(t, reply.DecodeResult(&decoded))
			assert.Equal(t, result, decoded)
		}
	})

	t.Run("error reply carries the error and no result", func(t *testing.T) {
		body, err := codec.EncodeReply("corr-1", nil, &contracts.ReplyError{
			Message: "boom",
			Sent:    map[string]interface{}{"a": 1.0},
		})

		assert.NoError(t, err)
		reply, err := codec.DecodeReply(body)
		assert.NoError(t, err)
		assert.True(t, reply.IsError())
		assert.Equal(t, "boom", reply.Error.Message)
		assert.Equal(t, map[string]interface{}{"a": 1.0}, reply.Error.Sent)
		assert.Nil(t, reply.Result)
	})
}

func TestDecodeReply(t *testing.T) {
	codec := NewEnvelopeCodec(PrefixedMode("awesome"))

	t.Run("rejects a missing correlation id", func(t *testing.T) {
		_, err := codec.DecodeReply([]byte(`{"result":3}`))

		var malformed *contracts.MalformedEnvelopeError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("rejects a non-object body", func(t *testing.T) {
		_, err := codec.DecodeReply([]byte(`[1,2,3]`))

		var malformed *contracts.MalformedEnvelopeError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("decodes a structured result", func(t *testing.T) {
		body, err := codec.EncodeReply("corr-9", map[string]interface{}{"greeting": "hello Ann"}, nil)
		assert.NoError(t, err)

		reply, err := codec.DecodeReply(body)
		assert.NoError(t, err)
		assert.False(t, reply.IsError())

		var result struct {
			Greeting string `json:"greeting"`
		}
		assert.NoError(t, reply.DecodeResult(&result))
		assert.Equal(t, "hello Ann", result.Greeting)
	})
}
