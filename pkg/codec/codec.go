// Package codec turns an OTLP protobuf request into the text payload
// carried downstream, per the fixed message format chosen at ingress
// start.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Format selects the wire representation of the payload. It is fixed for
// the lifetime of an ingress run; there is no per-message toggle.
type Format string

const (
	JSON     Format = "json"
	Protobuf Format = "protobuf"
)

// ErrUnknownFormat is returned by New for any value other than JSON or
// Protobuf.
var ErrUnknownFormat = errors.New("codec: unknown message format")

// EncodingError wraps a failure to serialise an OTLP message. The caller
// must treat it as a DecodeError toward the client: the message is never
// enqueued.
type EncodingError struct {
	Format Format
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("codec: failed to encode payload as %s: %v", e.Format, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// jsonMarshaler preserves original proto field names (snake_case, as OTLP's
// schema defines them) and includes default-value fields, matching the
// standard protobuf->JSON mapping the OTLP spec relies on.
var jsonMarshaler = protojson.MarshalOptions{
	EmitUnpopulated: true,
	UseProtoNames:   true,
}

// Codec converts a decoded OTLP request into the text payload stored on an
// otlp.Message.
type Codec struct {
	format Format
}

// New validates format and returns a Codec fixed to it.
func New(format Format) (*Codec, error) {
	switch format {
	case JSON, Protobuf:
		return &Codec{format: format}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Format returns the codec's fixed wire format.
func (c *Codec) Format() Format { return c.format }

// Encode serialises msg per the codec's fixed format: standard OTLP JSON
// when Format is JSON, or standard-alphabet base64 of the protobuf wire
// bytes (padding retained) when Format is Protobuf.
func (c *Codec) Encode(msg proto.Message) (string, error) {
	switch c.format {
	case JSON:
		b, err := jsonMarshaler.Marshal(msg)
		if err != nil {
			return "", &EncodingError{Format: JSON, Err: err}
		}
		return string(b), nil
	case Protobuf:
		b, err := proto.Marshal(msg)
		if err != nil {
			return "", &EncodingError{Format: Protobuf, Err: err}
		}
		return base64.StdEncoding.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, c.format)
	}
}
