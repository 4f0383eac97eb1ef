// Package rpc exposes an environment as the emulator.v1.Engine gRPC
// service.
package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cartridge/emulator/internal/env"
	"github.com/cartridge/emulator/internal/observation"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "emulator.v1.Engine"

const (
	resetMethod = "/" + ServiceName + "/Reset"
	stepMethod  = "/" + ServiceName + "/Step"
)

// ResetRequest starts a new episode.
type ResetRequest struct{}

// ResetResponse carries the first observation of the episode.
type ResetResponse struct {
	Observation observation.Observation `json:"observation"`
	Counters    env.Counters            `json:"counters"`
	Actions     int                     `json:"actions"`
}

// StepRequest names the action either as a token or as an ordinal. The
// ordinal wins when both are set.
type StepRequest struct {
	Action  string `json:"action,omitempty"`
	Ordinal *int   `json:"ordinal,omitempty"`
}

// StepResponse is the outcome of one step.
type StepResponse struct {
	env.StepResult
}

// EngineServer is the server API for the engine service.
type EngineServer interface {
	Reset(context.Context, *ResetRequest) (*ResetResponse, error)
	Step(context.Context, *StepRequest) (*StepResponse, error)
}

// RegisterEngineServer registers srv on s.
func RegisterEngineServer(s grpc.ServiceRegistrar, srv EngineServer) {
	s.RegisterService(&EngineServiceDesc, srv)
}

func resetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EngineServer).Reset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: resetMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EngineServer).Reset(ctx, req.(*ResetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func stepHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StepRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EngineServer).Step(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: stepMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EngineServer).Step(ctx, req.(*StepRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// EngineServiceDesc describes the engine service. Messages are JSON
// encoded, see CodecName.
var EngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reset", Handler: resetHandler},
		{MethodName: "Step", Handler: stepHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "emulator/v1/engine",
}

// EngineClient calls the engine service.
type EngineClient struct {
	cc grpc.ClientConnInterface
}

// NewEngineClient wraps cc.
func NewEngineClient(cc grpc.ClientConnInterface) *EngineClient {
	return &EngineClient{cc: cc}
}

func (c *EngineClient) Reset(ctx context.Context, in *ResetRequest, opts ...grpc.CallOption) (*ResetResponse, error) {
	out := new(ResetResponse)
	if err := c.cc.Invoke(ctx, resetMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EngineClient) Step(ctx context.Context, in *StepRequest, opts ...grpc.CallOption) (*StepResponse, error) {
	out := new(StepResponse)
	if err := c.cc.Invoke(ctx, stepMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
