package rpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/homeostat/internal/control"
	"github.com/danielpatrickdp/homeostat/internal/logging"
)

// #region server
// Server runs one independent control loop per request. It holds no run
// state, so concurrent calls never interact.
type Server struct {
	logger *slog.Logger
}

// NewServer creates a server. A nil logger discards.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{logger: logger}
}

// Run decodes the scenario, runs it to completion and returns the result.
func (s *Server) Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sc, err := scenarioFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "scenario: %v", err)
	}

	logger := s.logger.With("scenario", sc.Name)
	loop, loaded, err := sc.Build(logger)
	if err != nil {
		if errors.Is(err, control.ErrConfiguration) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "build: %v", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	res := loop.Run()
	logger.Info("rpc run complete", "reason", string(res.Reason), "iterations", res.Iterations)

	out, err := resultToStruct(NewResult(sc, res, loaded))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}

// #endregion server
