package rpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/env"
	"github.com/cartridge/emulator/internal/metrics"
	"github.com/cartridge/emulator/internal/observation"
	"github.com/cartridge/emulator/internal/protocol"
	"github.com/cartridge/emulator/internal/supervisor"
)

// Environment is the environment surface served over RPC.
type Environment interface {
	Reset(ctx context.Context) (observation.Observation, error)
	Step(ctx context.Context, a action.Action) (env.StepResult, error)
	StepOrdinal(ctx context.Context, n int) (env.StepResult, error)
	Counters() env.Counters
	Space() action.Space
}

// EngineService implements EngineServer. Calls are serialised because an
// environment drives a single lockstep session.
type EngineService struct {
	mu     sync.Mutex
	env    Environment
	logger zerolog.Logger
}

// NewEngineService creates a new EngineService
func NewEngineService(e Environment, logger zerolog.Logger) *EngineService {
	return &EngineService{env: e, logger: logger.With().Str("component", "rpc").Logger()}
}

// Reset starts a new episode.
func (s *EngineService) Reset(ctx context.Context, _ *ResetRequest) (*ResetResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs, err := s.env.Reset(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ResetResponse{
		Observation: obs,
		Counters:    s.env.Counters(),
		Actions:     s.env.Space().Cardinality(),
	}, nil
}

// Step advances the episode by one action.
func (s *EngineService) Step(ctx context.Context, req *StepRequest) (*StepResponse, error) {
	if req.Ordinal == nil && req.Action == "" {
		return nil, status.Error(codes.InvalidArgument, "action or ordinal is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res env.StepResult
		err error
	)
	if req.Ordinal != nil {
		res, err = s.env.StepOrdinal(ctx, *req.Ordinal)
	} else {
		res, err = s.env.Step(ctx, action.Action(req.Action))
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &StepResponse{StepResult: res}, nil
}

// toStatus maps environment errors onto gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, action.ErrInvalidAction):
		code = codes.InvalidArgument
	case errors.Is(err, env.ErrNotReset), errors.Is(err, protocol.ErrOutOfTurn):
		code = codes.FailedPrecondition
	case errors.Is(err, supervisor.ErrLaunchFailure), errors.Is(err, protocol.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// HealthHook reports the engine SERVING while the emulator is connected.
func HealthHook(h *health.Server) supervisor.TransitionFunc {
	return func(_, to supervisor.State) {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if to == supervisor.StateConnected || to == supervisor.StateRunning {
			st = healthpb.HealthCheckResponse_SERVING
		}
		h.SetServingStatus(ServiceName, st)
	}
}

// NewServer builds a gRPC server with the engine, health and reflection
// services registered.
func NewServer(svc EngineServer, h *health.Server, collector *metrics.Collector, logger zerolog.Logger) *grpc.Server {
	server := grpc.NewServer(
		grpc.UnaryInterceptor(loggingInterceptor(collector, logger)),
	)
	RegisterEngineServer(server, svc)
	if h != nil {
		h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthpb.RegisterHealthServer(server, h)
	}
	reflection.Register(server)
	return server
}

// loggingInterceptor logs gRPC requests
func loggingInterceptor(collector *metrics.Collector, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		code := status.Code(err)
		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.Str("method", info.FullMethod).Str("code", code.String()).Dur("duration", duration).Msg("rpc")
		if collector != nil {
			collector.APIRequest("grpc", info.FullMethod, int(code), duration)
		}
		return resp, err
	}
}
