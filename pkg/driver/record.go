// Package driver implements the Kafka-Connect-style source driver: the
// poll/commit/offsets lifecycle that drains the signal queue fabric into
// records, tracks per-signal sequence numbers, and resumes across restarts.
package driver

import "github.com/conduktor/kafka-connect-opentelemetry/pkg/otlp"

// Record is what one poll emits to the caller's sink: a telemetry batch
// member stamped with its destination stream and offset identity.
type Record struct {
	Topic        string
	Value        string
	ValueType    string
	Timestamp    int64
	PartitionKey PartitionKey
	OffsetKey    OffsetKey
}

// PartitionKey is the stream identity used for offset bookkeeping.
type PartitionKey struct {
	ConnectorName string `json:"connector_name"`
	SignalName    string `json:"signal_name"`
}

// OffsetKey is the value mapping persisted (and replayed) for resume.
type OffsetKey struct {
	SessionID  string `json:"session_id"`
	SignalName string `json:"signal_name"`
	Sequence   int64  `json:"sequence"`
}

// PersistedOffset is what an OffsetReader returns for a prior run, if any.
type PersistedOffset struct {
	SessionID string
	Sequence  int64
}

// OffsetReader is the external driver-framework callback consulted once per
// signal at start, keyed by {connector_name, signal_name}.
type OffsetReader func(connectorName string, signal otlp.SignalKind) (PersistedOffset, bool)

func newRecord(connectorName, topic string, signal otlp.SignalKind, sessionID string, sequence int64, msg otlp.Message) Record {
	return Record{
		Topic:     topic,
		Value:     msg.Payload,
		ValueType: "string",
		Timestamp: msg.IngestTime,
		PartitionKey: PartitionKey{
			ConnectorName: connectorName,
			SignalName:    signal.String(),
		},
		OffsetKey: OffsetKey{
			SessionID:  sessionID,
			SignalName: signal.String(),
			Sequence:   sequence,
		},
	}
}
