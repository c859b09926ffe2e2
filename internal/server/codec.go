package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec carries the ledger's plain Go request/response structs over
// gRPC. Clients select it with grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
