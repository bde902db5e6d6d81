package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"auditgrid.org/internal/auth"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *GRPCServer) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	srv.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		server.GracefulStop()
		_ = listener.Close()
	})
	return conn
}

func loginStruct(t *testing.T, password string) *structpb.Struct {
	t.Helper()
	in, err := structpb.NewStruct(map[string]any{
		"userName":  "alice@acme.com",
		"password":  password,
		"grantType": "password",
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return in
}

func TestGRPCLogin(t *testing.T) {
	conn := startBufGRPC(t, NewGRPCServer(&fakeService{}, ReadyProbe{}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, LoginMethod, loginStruct(t, "correct horse"), out); err != nil {
		t.Fatalf("Login: %v", err)
	}
	fields := out.GetFields()
	if fields["token"].GetStringValue() != goodToken {
		t.Fatalf("unexpected token: %v", fields["token"])
	}
	if fields["roleName"].GetStringValue() != "Admin" || fields["clientName"].GetStringValue() != "Acme" {
		t.Fatalf("unexpected response: %v", out)
	}
	if fields["roleId"].GetNumberValue() != 100 {
		t.Fatalf("unexpected roleId: %v", fields["roleId"])
	}
}

func TestGRPCLoginErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{auth.AuthenticationFailure(), codes.Unauthenticated},
		{auth.ValidationError("grantType is required"), codes.InvalidArgument},
		{auth.AuthorizationFailure(), codes.PermissionDenied},
		{auth.ConfigurationError("token signing issuer not configured"), codes.Internal},
	}
	for _, tc := range cases {
		conn := startBufGRPC(t, NewGRPCServer(&fakeService{loginErr: tc.err}, ReadyProbe{}))
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := conn.Invoke(ctx, LoginMethod, loginStruct(t, "x"), new(structpb.Struct))
		cancel()
		if status.Code(err) != tc.code {
			t.Fatalf("expected %v, got %v", tc.code, err)
		}
		if st, _ := status.FromError(err); st.Message() != auth.PublicMessage(tc.err) {
			t.Fatalf("unexpected message %q", st.Message())
		}
	}
}

func TestGRPCHealth(t *testing.T) {
	srv := NewGRPCServer(&fakeService{}, ReadyProbe{DB: fakePinger{err: errDown}})
	conn := startBufGRPC(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: AuthServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}

	srv.RefreshHealth(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after failed probe, got %v", resp.GetStatus())
	}
}
