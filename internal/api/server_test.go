package api

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"fieldbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func startGRPC(t *testing.T, ready func(context.Context) error) (*GRPCServer, healthpb.HealthClient) {
	t.Helper()
	logger := zerolog.Nop()

	srv, err := NewGRPCServer(config.APIConfig{GRPC: config.APIGRPCConfig{Port: 0}}, ready, &logger)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	conn, err := grpc.NewClient("127.0.0.1:"+port, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func TestGRPCHealth(t *testing.T) {
	var down atomic.Bool
	srv, client := startGRPC(t, func(context.Context) error {
		if down.Load() {
			return errors.New("database is closed")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	down.Store(true)
	srv.RefreshHealth(ctx)

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown.Service"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPCWatchHealth(t *testing.T) {
	var down atomic.Bool
	srv, client := startGRPC(t, func(context.Context) error {
		if down.Load() {
			return errors.New("down")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go srv.WatchHealth(ctx, 10*time.Millisecond)

	down.Store(true)
	assert.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBuildTLSConfig(t *testing.T) {
	t.Run("MissingFiles", func(t *testing.T) {
		_, err := buildTLSConfig(config.APITLSConfig{Enabled: true})
		assert.ErrorContains(t, err, "cert_file/key_file not set")
	})

	t.Run("UnreadableKeyPair", func(t *testing.T) {
		dir := t.TempDir()
		cert := filepath.Join(dir, "cert.pem")
		require.NoError(t, os.WriteFile(cert, []byte("not a cert"), 0o600))
		_, err := buildTLSConfig(config.APITLSConfig{Enabled: true, CertFile: cert, KeyFile: cert})
		assert.ErrorContains(t, err, "load grpc tls keypair")
	})

	t.Run("ServerRefusesBadTLS", func(t *testing.T) {
		_, err := NewGRPCServer(config.APIConfig{GRPC: config.APIGRPCConfig{
			TLS: config.APITLSConfig{Enabled: true},
		}}, nil, nil)
		assert.Error(t, err)
	})
}

func peerCtx(ip string) context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 5000}})
}

func TestRateLimitUnaryInterceptor(t *testing.T) {
	interceptor := RateLimitUnaryInterceptor(config.APIRateLimitConfig{RPS: 1, Burst: 1})
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	resp, err := interceptor(peerCtx("10.0.0.1"), nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	_, err = interceptor(peerCtx("10.0.0.1"), nil, info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	_, err = interceptor(peerCtx("10.0.0.2"), nil, info, handler)
	assert.NoError(t, err, "other peers keep their own bucket")
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	interceptor := LoggingUnaryInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	assert.Equal(t, codes.Unavailable, status.Code(err), "errors pass through untouched")
}

func TestRequestIDFromMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-42"))
	assert.Equal(t, "req-42", requestIDFromMetadata(ctx))

	assert.Len(t, requestIDFromMetadata(context.Background()), 36)
	assert.Equal(t, clientKeyUnknown, peerKey(context.Background()))
	assert.Equal(t, "10.0.0.9", peerKey(peerCtx("10.0.0.9")))
}
