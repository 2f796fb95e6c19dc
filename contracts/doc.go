// Package contracts defines the wire envelopes and error taxonomy shared by
// every part of queuerate.
//
// The envelope field names (command, data, correlation_id, result, error) are
// part of the cross-language wire protocol and must not change: peers written
// in other languages interoperate at the JSON level.
package contracts
