// Package admin implements the local management/introspection surface
// (spec §6 "Command-line surface"): GetSystemStatus, ListControllers,
// ListMTPs, ListSubscriptions, TriggerReconnect, and DBDump, served over
// a Unix domain socket at the agent's configured admin_socket_path.
//
// It is adapted from the teacher's gRPC IPC layer
// (coreengine/grpc/{server.go,interceptors.go,validation.go}) — the same
// grpc.Server, grpc.ServiceDesc, and interceptor-chain machinery — but
// with no protoc toolchain available in this environment to generate
// message types, the wire codec is replaced: jsonCodec below implements
// google.golang.org/grpc/encoding.Codec over encoding/json instead of
// protobuf, and the service's method table (serviceDesc in service.go)
// is hand-written in the shape protoc-gen-go-grpc would otherwise emit.
// The admin surface is local-only and low-volume, so JSON-on-gRPC trades
// wire compactness for not needing generated code while keeping the
// teacher's server/interceptor/lifecycle idiom intact.
package admin

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec marshals RPC messages as JSON. Registered globally under
// codecName; the client dials with grpc.CallContentSubtype(codecName)
// and the server picks it up automatically from the request's
// content-subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("admin: json codec marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("admin: json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
