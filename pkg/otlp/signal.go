// Package otlp holds the data types shared by the queue fabric, the
// receivers, and the source driver: the signal taxonomy and the message
// envelope that flows from receipt to record.
package otlp

// SignalKind is one of the three OTLP telemetry kinds. Its String value is
// part of the external contract: it appears verbatim in offset records and
// log lines, so it must never be renamed without a migration plan.
type SignalKind int

const (
	Traces SignalKind = iota
	Metrics
	Logs
)

// Signals lists the three kinds in the fixed order the driver polls them in.
var Signals = [3]SignalKind{Traces, Metrics, Logs}

func (s SignalKind) String() string {
	switch s {
	case Traces:
		return "TRACES"
	case Metrics:
		return "METRICS"
	case Logs:
		return "LOGS"
	default:
		return "UNKNOWN"
	}
}
