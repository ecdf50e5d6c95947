package authv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "authkeeper.v1.Auth"

const (
	Auth_Register_FullMethodName = "/authkeeper.v1.Auth/Register"
	Auth_Login_FullMethodName    = "/authkeeper.v1.Auth/Login"
	Auth_Refresh_FullMethodName  = "/authkeeper.v1.Auth/Refresh"
	Auth_Logout_FullMethodName   = "/authkeeper.v1.Auth/Logout"
	Auth_Profile_FullMethodName  = "/authkeeper.v1.Auth/Profile"
)

// AuthServer is the server API for the Auth service.
type AuthServer interface {
	Register(context.Context, *RegisterRequest) (*AuthResponse, error)
	Login(context.Context, *LoginRequest) (*AuthResponse, error)
	Refresh(context.Context, *RefreshRequest) (*AuthResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Profile(context.Context, *ProfileRequest) (*ProfileResponse, error)
}

// UnimplementedAuthServer can be embedded for forward compatibility.
type UnimplementedAuthServer struct{}

func (UnimplementedAuthServer) Register(context.Context, *RegisterRequest) (*AuthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Register not implemented")
}

func (UnimplementedAuthServer) Login(context.Context, *LoginRequest) (*AuthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Login not implemented")
}

func (UnimplementedAuthServer) Refresh(context.Context, *RefreshRequest) (*AuthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
}

func (UnimplementedAuthServer) Logout(context.Context, *LogoutRequest) (*LogoutResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
}

func (UnimplementedAuthServer) Profile(context.Context, *ProfileRequest) (*ProfileResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Profile not implemented")
}

func RegisterAuthServer(s grpc.ServiceRegistrar, srv AuthServer) {
	s.RegisterService(&Auth_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(AuthServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Auth_ServiceDesc describes the Auth service for grpc.ServiceRegistrar.
var Auth_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(Auth_Register_FullMethodName, AuthServer.Register)},
		{MethodName: "Login", Handler: unaryHandler(Auth_Login_FullMethodName, AuthServer.Login)},
		{MethodName: "Refresh", Handler: unaryHandler(Auth_Refresh_FullMethodName, AuthServer.Refresh)},
		{MethodName: "Logout", Handler: unaryHandler(Auth_Logout_FullMethodName, AuthServer.Logout)},
		{MethodName: "Profile", Handler: unaryHandler(Auth_Profile_FullMethodName, AuthServer.Profile)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authkeeper/v1/auth.json",
}

// AuthClient is the client API for the Auth service.
type AuthClient interface {
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*AuthResponse, error)
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*AuthResponse, error)
	Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*AuthResponse, error)
	Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error)
	Profile(ctx context.Context, in *ProfileRequest, opts ...grpc.CallOption) (*ProfileResponse, error)
}

type authClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthClient returns client that sends messages with the json codec.
func NewAuthClient(cc grpc.ClientConnInterface) AuthClient {
	return &authClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c.cc, Auth_Register_FullMethodName, in, opts)
}

func (c *authClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c.cc, Auth_Login_FullMethodName, in, opts)
}

func (c *authClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c.cc, Auth_Refresh_FullMethodName, in, opts)
}

func (c *authClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c.cc, Auth_Logout_FullMethodName, in, opts)
}

func (c *authClient) Profile(ctx context.Context, in *ProfileRequest, opts ...grpc.CallOption) (*ProfileResponse, error) {
	return invoke[ProfileResponse](ctx, c.cc, Auth_Profile_FullMethodName, in, opts)
}
