package handlers

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "restree.v1.ResourceTreeService"

// Method names of ResourceTreeService
const (
	MethodDecide          = "Decide"
	MethodEffectiveACL    = "EffectiveACL"
	MethodNodeACL         = "NodeACL"
	MethodCreateRoot      = "CreateRoot"
	MethodAddChild        = "AddChild"
	MethodGetChild        = "GetChild"
	MethodAllow           = "Allow"
	MethodDeny            = "Deny"
	MethodInvalidateCache = "InvalidateCache"
)

// ResourceTreeServer is the server API of ResourceTreeService.
// Requests and responses are google.protobuf.Struct messages.
type ResourceTreeServer interface {
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EffectiveACL(context.Context, *structpb.Struct) (*structpb.Struct, error)
	NodeACL(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateRoot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddChild(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetChild(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Allow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deny(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InvalidateCache(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(ResourceTreeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ResourceTreeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ResourceTreeServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes ResourceTreeService for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ResourceTreeServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodDecide, ResourceTreeServer.Decide),
		unaryHandler(MethodEffectiveACL, ResourceTreeServer.EffectiveACL),
		unaryHandler(MethodNodeACL, ResourceTreeServer.NodeACL),
		unaryHandler(MethodCreateRoot, ResourceTreeServer.CreateRoot),
		unaryHandler(MethodAddChild, ResourceTreeServer.AddChild),
		unaryHandler(MethodGetChild, ResourceTreeServer.GetChild),
		unaryHandler(MethodAllow, ResourceTreeServer.Allow),
		unaryHandler(MethodDeny, ResourceTreeServer.Deny),
		unaryHandler(MethodInvalidateCache, ResourceTreeServer.InvalidateCache),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "restree/v1/resource_tree.proto",
}

// RegisterResourceTreeServer registers the service implementation
func RegisterResourceTreeServer(s grpc.ServiceRegistrar, srv ResourceTreeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls ResourceTreeService
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client on an established connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes a method with a request built from fields
func (c *Client) Call(ctx context.Context, method string, fields map[string]interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
