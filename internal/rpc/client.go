package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/homeostat/internal/scenario"
)

// #region client-struct
// Client calls a remote homeostat server.
type Client struct {
	conn *grpc.ClientConn // nil when the caller owns the connection
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewClient connects to a homeostat server without transport security.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn wraps an existing connection. Close leaves it open.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// #endregion constructor

// #region close
// Close shuts down a connection opened by NewClient.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region run
// Run executes a scenario remotely.
func (c *Client) Run(ctx context.Context, sc *scenario.Scenario) (Result, error) {
	req, err := scenarioToStruct(sc)
	if err != nil {
		return Result{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, runMethod, req, out); err != nil {
		return Result{}, fmt.Errorf("run rpc: %w", err)
	}
	return resultFromStruct(out)
}

// #endregion run
