package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

/*
 * gRPC wiring for the FilterCompiler service.
 *
 * Requests and responses are google.protobuf.Struct values carrying the same
 * JSON documents the CLI reads and writes, so the service needs no generated
 * message types. The descriptor below is what protoc-gen-go-grpc would emit
 * for:
 *
 *   service FilterCompiler {
 *     rpc Compile(google.protobuf.Struct) returns (google.protobuf.Struct);
 *     rpc Explain(google.protobuf.Struct) returns (google.protobuf.Struct);
 *   }
 */

const (
	ServiceName   = "propfilter.v1.FilterCompiler"
	CompileMethod = "/" + ServiceName + "/Compile"
	ExplainMethod = "/" + ServiceName + "/Explain"
)

// FilterCompilerServer is the server API for the FilterCompiler service.
type FilterCompilerServer interface {
	Compile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Explain(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterFilterCompilerServer registers srv on s.
func RegisterFilterCompilerServer(s grpc.ServiceRegistrar, srv FilterCompilerServer) {
	s.RegisterService(&filterCompilerServiceDesc, srv)
}

var filterCompilerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FilterCompilerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compile", Handler: compileHandler},
		{MethodName: "Explain", Handler: explainHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "propfilter/v1/filter_compiler.proto",
}

func compileHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FilterCompilerServer).Compile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CompileMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FilterCompilerServer).Compile(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func explainHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FilterCompilerServer).Explain(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExplainMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FilterCompilerServer).Explain(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// FilterCompilerClient calls a remote FilterCompiler service.
type FilterCompilerClient struct {
	cc grpc.ClientConnInterface
}

// NewFilterCompilerClient creates a client over cc.
func NewFilterCompilerClient(cc grpc.ClientConnInterface) *FilterCompilerClient {
	return &FilterCompilerClient{cc: cc}
}

// Compile calls FilterCompiler.Compile.
func (c *FilterCompilerClient) Compile(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CompileMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Explain calls FilterCompiler.Explain.
func (c *FilterCompilerClient) Explain(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ExplainMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
