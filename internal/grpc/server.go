// Package grpc exposes the function gateway and job runner over gRPC using
// google.protobuf.Struct messages.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/gateway"
	"github.com/oriys/cloudcode/internal/jobs"
	"github.com/oriys/cloudcode/internal/logging"
)

// Config holds the dependencies of the gRPC server.
type Config struct {
	Gateway *gateway.Gateway
	Jobs    *jobs.Manager
}

// Server implements cloudcode.v1.Functions.
type Server struct {
	gateway    *gateway.Gateway
	jobs       *jobs.Manager
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a gRPC server with the functions, health and
// reflection services registered.
func NewServer(cfg Config) *Server {
	s := &Server{
		gateway: cfg.Gateway,
		jobs:    cfg.Jobs,
		grpcServer: grpc.NewServer(
			grpc.ChainUnaryInterceptor(
				recoverUnary,
				observeUnary,
				statusUnary,
			),
		),
		health: health.NewServer(),
	}
	RegisterFunctionsServer(s.grpcServer, s)
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(s.grpcServer)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	logging.Op().Info("gRPC server started", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// Stop marks the server not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Invoke runs a function and returns the webhook-shaped result.
func (s *Server) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, params, err := nameAndParams(req)
	if err != nil {
		return nil, err
	}
	res := s.gateway.Invoke(ctx, name, params)
	if err := res.Err(); errors.Is(err, domain.ErrUnknownFunction) {
		return nil, err
	}
	return toStruct(res)
}

// StartJob starts a job run in the background.
func (s *Server) StartJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, params, err := nameAndParams(req)
	if err != nil {
		return nil, err
	}
	runID, err := s.jobs.Start(ctx, name, params)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"jobStatusId": runID})
}

// GetJobRun returns the status of a run.
func (s *Server) GetJobRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	st, err := s.jobs.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStruct(st)
}

func nameAndParams(req *structpb.Struct) (string, domain.Params, error) {
	fields := req.GetFields()
	name := fields["name"].GetStringValue()
	if name == "" {
		return "", nil, status.Error(codes.InvalidArgument, "name is required")
	}
	params := domain.Params{}
	if p := fields["params"].GetStructValue(); p != nil {
		params = domain.Params(p.AsMap())
	}
	return name, params, nil
}

// toStruct converts any JSON-marshalable value to a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}
