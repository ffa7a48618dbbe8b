// Package geyser defines the account update feed service: its messages,
// their protobuf wire encoding, and gRPC client and server stubs.
//
// The stubs mirror protoc-gen-go-grpc output. Messages are encoded by hand,
// so both ends must install Codec (DialOption, ServerOption).
package geyser
