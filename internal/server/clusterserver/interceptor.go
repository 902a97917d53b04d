package clusterserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/yndnr/cloudlock-go/internal/telemetry/logger"
)

// TraceHeader carries the id of the admin request that caused an RPC, so
// the logs of every node it reaches can be correlated.
const TraceHeader = "X-Cloudlock-Trace-Id"

// LoggingInterceptor logs all RPC requests and responses and propagates
// the trace id between nodes.
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor.
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger}
}

// traceID returns the trace id of ctx, starting a trace at the request id
// of an admin request.
func traceID(ctx context.Context) string {
	if id := logger.TraceIDFromContext(ctx); id != "" {
		return id
	}
	return logger.RequestIDFromContext(ctx)
}

// WrapUnary implements connect.Interceptor.
func (i *LoggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()

		side := "server"
		if req.Spec().IsClient {
			side = "client"
			if id := traceID(ctx); id != "" {
				req.Header().Set(TraceHeader, id)
			}
		} else if id := req.Header().Get(TraceHeader); id != "" {
			ctx = logger.WithTraceID(ctx, id)
		}

		resp, err := next(ctx, req)

		log := i.logger
		if id := traceID(ctx); id != "" {
			log = log.With("trace_id", id)
		}
		if err != nil {
			log.Error("cluster rpc error",
				"side", side,
				"method", req.Spec().Procedure,
				"peer", req.Peer().Addr,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err)
		} else {
			log.Debug("cluster rpc",
				"side", side,
				"method", req.Spec().Procedure,
				"peer", req.Peer().Addr,
				"duration_ms", time.Since(start).Milliseconds())
		}
		return resp, err
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *LoggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *LoggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// TokenHeader carries the cluster token on every RPC.
const TokenHeader = "X-Cloudlock-Cluster-Token"

// DefaultTokenSkew is the accepted clock difference between nodes.
const DefaultTokenSkew = 5 * time.Minute

var (
	errTokenMissing = errors.New("cluster token missing")
	errTokenInvalid = errors.New("cluster token invalid")
	errTokenExpired = errors.New("cluster token outside accepted time window")
)

// TokenInterceptor signs outgoing requests and verifies incoming ones with an
// HMAC-SHA256 over the procedure and a timestamp, keyed by the cluster
// secret. The token has the form "<unix seconds>.<hex mac>".
type TokenInterceptor struct {
	secret []byte
	skew   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenInterceptor creates a token interceptor for secret.
func NewTokenInterceptor(secret []byte, logger *slog.Logger) *TokenInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenInterceptor{
		secret: append([]byte(nil), secret...),
		skew:   DefaultTokenSkew,
		now:    time.Now,
		logger: logger,
	}
}

func (i *TokenInterceptor) mac(procedure string, ts int64) []byte {
	m := hmac.New(sha256.New, i.secret)
	fmt.Fprintf(m, "%s\n%d", procedure, ts)
	return m.Sum(nil)
}

// Sign returns the token for procedure at the current time.
func (i *TokenInterceptor) Sign(procedure string) string {
	ts := i.now().Unix()
	return strconv.FormatInt(ts, 10) + "." + hex.EncodeToString(i.mac(procedure, ts))
}

// Verify checks a token received for procedure.
func (i *TokenInterceptor) Verify(procedure, token string) error {
	if token == "" {
		return errTokenMissing
	}
	tsPart, macPart, ok := strings.Cut(token, ".")
	if !ok {
		return errTokenInvalid
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return errTokenInvalid
	}
	got, err := hex.DecodeString(macPart)
	if err != nil {
		return errTokenInvalid
	}
	if !hmac.Equal(got, i.mac(procedure, ts)) {
		return errTokenInvalid
	}
	if d := i.now().Sub(time.Unix(ts, 0)); d > i.skew || d < -i.skew {
		return errTokenExpired
	}
	return nil
}

// WrapUnary implements connect.Interceptor.
func (i *TokenInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		procedure := req.Spec().Procedure
		if req.Spec().IsClient {
			req.Header().Set(TokenHeader, i.Sign(procedure))
			return next(ctx, req)
		}
		if err := i.Verify(procedure, req.Header().Get(TokenHeader)); err != nil {
			i.logger.Warn("cluster rpc auth failed",
				"method", procedure,
				"peer", req.Peer().Addr,
				"error", err)
			return nil, connect.NewError(connect.CodeUnauthenticated, err)
		}
		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *TokenInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(TokenHeader, i.Sign(spec.Procedure))
		return conn
	}
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *TokenInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if err := i.Verify(conn.Spec().Procedure, conn.RequestHeader().Get(TokenHeader)); err != nil {
			return connect.NewError(connect.CodeUnauthenticated, err)
		}
		return next(ctx, conn)
	}
}

// RecoveryInterceptor recovers from panics.
type RecoveryInterceptor struct {
	logger *slog.Logger
}

// NewRecoveryInterceptor creates a new recovery interceptor.
func NewRecoveryInterceptor(logger *slog.Logger) *RecoveryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryInterceptor{logger: logger}
}

// WrapUnary implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, err error) {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("cluster rpc panic recovered",
					"method", req.Spec().Procedure,
					"panic", r)
				err = connect.NewError(connect.CodeInternal, errors.New("internal server error"))
			}
		}()
		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// ServerInterceptors returns the interceptors for the KeyService handler.
func ServerInterceptors(secret []byte, logger *slog.Logger) []connect.Interceptor {
	return []connect.Interceptor{
		NewRecoveryInterceptor(logger),
		NewTokenInterceptor(secret, logger),
		NewLoggingInterceptor(logger),
	}
}
