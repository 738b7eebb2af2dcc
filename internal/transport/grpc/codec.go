// Package grpctransport is the reference Transport implementation: the
// framed bidirectional message channel carried over google.golang.org/grpc
// without a generated protobuf service — the wire envelope's payload is an
// open object, so a JSON grpc.Codec keeps its schema-free shape instead of
// forcing it through a fixed .proto message.
package grpctransport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype this package registers
// ("application/grpc+json" on the wire).
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals gRPC messages as JSON rather than protobuf wire
// format. Any value SendMsg/RecvMsg is called with must be JSON-(un)
// marshalable; WireMessage (service.go) is the only type this package passes.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }
