package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/homeostat/internal/rpc"
)

// #region serve-cmd

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve scenario runs over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("HOMEOSTAT_ADDR", "localhost:50061"), "listen address")
	return cmd
}

// serve blocks until ctx is done, then drains in-flight runs.
func serve(ctx context.Context, a *app, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	gs := grpc.NewServer()
	rpc.Register(gs, rpc.NewServer(a.logger))

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down")
		gs.GracefulStop()
	}()

	a.logger.Info("serving", "service", rpc.ServiceName, "addr", lis.Addr().String())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// #endregion serve-cmd
