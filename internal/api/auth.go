package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"fieldbook/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	clientKeyUnknown     = "unknown"
	requestIDHeader      = "X-Request-ID"
	requestIDMetadataKey = "x-request-id"
	sessionHeader        = "X-Session-ID"
)

// AdminGate checks the shared admin passcode header. It keeps casual visitors
// out of the admin routes and nothing more.
type AdminGate struct {
	header   string
	passcode []byte
}

func NewAdminGate(cfg config.AdminConfig) *AdminGate {
	header := strings.TrimSpace(cfg.Header)
	if header == "" {
		header = "X-Admin-Passcode"
	}
	return &AdminGate{header: header, passcode: []byte(cfg.Passcode)}
}

func (g *AdminGate) allowed(r *http.Request) bool {
	if len(g.passcode) == 0 {
		return false
	}
	got := strings.TrimSpace(r.Header.Get(g.header))
	return subtle.ConstantTimeCompare([]byte(got), g.passcode) == 1
}

func (g *AdminGate) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.allowed(r) {
			writeMessage(w, http.StatusUnauthorized, "Admin passcode required.")
			return
		}
		next(w, r)
	}
}

// rateLimitMiddleware throttles per client address.
func rateLimitMiddleware(l *rateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeMessage(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return clientKeyUnknown
}

// sessionID identifies the admin browser session that owns a block selection
// or an armed cancel.
func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id
	}
	return clientKey(r)
}

// RateLimitUnaryInterceptor applies the same per-peer token buckets to gRPC calls.
func RateLimitUnaryInterceptor(cfg config.APIRateLimitConfig) grpc.UnaryServerInterceptor {
	limiter := newRateLimiter(cfg)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !limiter.allow(peerKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func peerKey(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)

		base.Info().
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", peerKey(ctx)).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(requestIDMetadataKey); len(vals) > 0 {
			if id := strings.TrimSpace(vals[0]); id != "" {
				return id
			}
		}
	}
	return uuid.NewString()
}
