package geyser

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

// Codec encodes Geyser messages in protobuf wire format. It also handles
// regular proto messages such as the Empty returned by PushAccountUpdate.
type Codec struct{}

func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case Message:
		return m.MarshalWire()
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("geyser: cannot marshal %T", v)
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case Message:
		return m.UnmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("geyser: cannot unmarshal into %T", v)
}

// DialOption installs the codec on every call made through a client
// connection.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{}))
}

// ServerOption installs the codec on a server.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(Codec{})
}
