package otlp

// Message is the unit handed from a receiver to a queue and from a queue to
// a record. Payload is either UTF-8 JSON or ASCII base64 of the protobuf
// wire form, depending on the run's fixed message format; IngestTime is the
// milliseconds timestamp the constructing receiver passes in (Unix epoch
// milliseconds from the wall clock in both receivers).
type Message struct {
	Signal     SignalKind
	Payload    string
	IngestTime int64
}

// New constructs a Message stamped with the caller-supplied time nowMs.
func New(signal SignalKind, payload string, nowMs int64) Message {
	return Message{Signal: signal, Payload: payload, IngestTime: nowMs}
}
