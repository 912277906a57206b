// Package server provides the gRPC and HTTP transports for the evaluation
// service and their lifecycle management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/autogift/internal/core/api"
	"github.com/solatis/autogift/internal/core/config"
	"github.com/solatis/autogift/internal/core/metrics"
)

/*
 * gRPC evaluator service.
 *
 * autogift.v1.Evaluator/EvaluateCycle carries google.protobuf.Struct in both
 * directions; the Struct holds the same JSON documents the HTTP transport
 * accepts, so both transports share one request and response shape:
 *
 *   request:  {"shopId": "...", "cart": {"currency": "...", "lines": [...]}}
 *   response: {"cycleId": "...", "intents": [...], "matchedRules": [...]}
 *
 * Error mapping:
 *   api.ErrInvalidRequest      -> INVALID_ARGUMENT
 *   api.ErrCatalogUnavailable  -> UNAVAILABLE
 *   context.DeadlineExceeded   -> DEADLINE_EXCEEDED
 *   context.Canceled           -> CANCELED
 *   anything else              -> INTERNAL
 */

const (
	EvaluatorServiceName    = "autogift.v1.Evaluator"
	EvaluateCycleFullMethod = "/" + EvaluatorServiceName + "/EvaluateCycle"
)

// evaluatorServer is the handler type of the evaluator service descriptor.
type evaluatorServer interface {
	EvaluateCycle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var evaluatorServiceDesc = grpc.ServiceDesc{
	ServiceName: EvaluatorServiceName,
	HandlerType: (*evaluatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EvaluateCycle", Handler: evaluateCycleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autogift/v1/evaluator.proto",
}

func evaluateCycleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(evaluatorServer).EvaluateCycle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EvaluateCycleFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(evaluatorServer).EvaluateCycle(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// evaluator adapts api.EvaluationService to the Struct-typed service.
type evaluator struct {
	service *api.EvaluationService
	timeout time.Duration
}

func (e *evaluator) EvaluateCycle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.EvaluateRequest
	if err := structToValue(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.service.Evaluate(ctx, metrics.CallerCheckout, req)
	if err != nil {
		return nil, grpcError(err)
	}

	out, err := valueToStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// grpcError maps service errors to gRPC status codes.
func grpcError(err error) error {
	switch {
	case errors.Is(err, api.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, api.ErrCatalogUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func structToValue(in *structpb.Struct, dest any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func valueToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loggingInterceptor logs every unary call with its status code.
func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "grpc call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds())
		return resp, err
	}
}

// GRPCServer manages gRPC server lifecycle.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	config   config.ServerConfig
}

// NewGRPCServer creates a gRPC server exposing the evaluator and the
// standard health service.
func NewGRPCServer(cfg config.ServerConfig, service *api.EvaluationService, logger *slog.Logger) (*GRPCServer, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	)
	server.RegisterService(&evaluatorServiceDesc, &evaluator{service: service, timeout: cfg.RequestTimeout})

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(EvaluatorServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &GRPCServer{
		server: server,
		health: healthServer,
		config: cfg,
	}, nil
}

// Start binds the configured address and serves until Shutdown.
func (s *GRPCServer) Start(ctx context.Context) error {
	addr := s.config.GRPCAddr()
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener until Shutdown.
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.listener = listener
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown marks the server NOT_SERVING and stops gracefully, forcing a
// stop when ctx ends or after 30 seconds.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(30 * time.Second):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}

// EvaluatorClient calls the evaluator service over a client connection.
type EvaluatorClient struct {
	cc grpc.ClientConnInterface
}

// NewEvaluatorClient wraps cc.
func NewEvaluatorClient(cc grpc.ClientConnInterface) *EvaluatorClient {
	return &EvaluatorClient{cc: cc}
}

// EvaluateCycle runs one remote evaluation.
func (c *EvaluatorClient) EvaluateCycle(ctx context.Context, req api.EvaluateRequest, opts ...grpc.CallOption) (*api.EvaluateResponse, error) {
	in, err := valueToStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, EvaluateCycleFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	var resp api.EvaluateResponse
	if err := structToValue(out, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
