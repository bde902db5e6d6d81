package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"auditgrid.org/internal/audit"
	"auditgrid.org/internal/auth"
	"auditgrid.org/internal/obs"
)

// AuthServiceName is the fully qualified gRPC service name.
const AuthServiceName = "auditgrid.auth.v1.AuthService"

// LoginMethod is the full method path of Login.
const LoginMethod = "/" + AuthServiceName + "/Login"

// AuthServer is the gRPC login surface. Messages are structpb.Struct with the
// same field names as the HTTP JSON body.
type AuthServer interface {
	Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var authServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: loginHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "auditgrid/auth/v1/auth.proto",
}

func loginHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServer).Login(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LoginMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthServer).Login(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer implements AuthServer and drives the standard health service.
type GRPCServer struct {
	svc       AuthService
	readiness readinessChecker
	health    *health.Server
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(svc AuthService, r readinessChecker) *GRPCServer {
	return &GRPCServer{svc: svc, readiness: r, health: health.NewServer()}
}

// Register installs the auth and health services on g.
func (s *GRPCServer) Register(g *grpc.Server) {
	g.RegisterService(&authServiceDesc, s)
	healthpb.RegisterHealthServer(g, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(AuthServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Login exchanges credentials for a session.
func (s *GRPCServer) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	res, err := s.svc.Login(ctx, auth.LoginRequest{
		UserName:  fields["userName"].GetStringValue(),
		Password:  fields["password"].GetStringValue(),
		GrantType: fields["grantType"].GetStringValue(),
	})
	if err != nil {
		_ = audit.LogEvent(ctx, "auth.login.failed", zap.String("kind", string(auth.KindOf(err))), zap.String("transport", "grpc"))
		return nil, grpcError(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"name":         res.Name,
		"token":        res.Token,
		"refreshToken": res.RefreshToken,
		"roleId":       res.RoleID,
		"roleName":     res.RoleName,
		"clientId":     res.ClientID,
		"clientName":   res.ClientName,
		"expiresAt":    res.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	_ = audit.LogEvent(ctx, "auth.login.succeeded", zap.String("transport", "grpc"))
	return out, nil
}

// RefreshHealth sets the serving status from the readiness probe.
func (s *GRPCServer) RefreshHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			obs.Logger().Warn("grpc health degraded", zap.Error(err))
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(AuthServiceName, st)
}

// WatchHealth refreshes the health status every interval until ctx is done.
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.RefreshHealth(ctx)
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-t.C:
		}
	}
}

func grpcError(err error) error {
	msg := auth.PublicMessage(err)
	switch auth.KindOf(err) {
	case auth.KindValidation:
		return status.Error(codes.InvalidArgument, msg)
	case auth.KindAuthentication:
		return status.Error(codes.Unauthenticated, msg)
	case auth.KindAuthorization:
		return status.Error(codes.PermissionDenied, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
