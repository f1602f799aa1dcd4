package worker

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client drives one remote transformer over the control protocol. It
// tracks whether the transformer has a built computation so Execute can
// fail fast without a round trip.
type Client struct {
	conn         *grpc.ClientConn
	ownsConn     bool
	address      string
	transformer  string
	isTransBuilt bool
}

// NewClient dials a worker server and binds to the named transformer.
func NewClient(address, transformer string) (*Client, error) {
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	if err != nil {
		return nil, errors.Wrapf(err, "worker: dial %v", address)
	}
	return &Client{conn: conn, ownsConn: true, address: address, transformer: transformer}, nil
}

// NewClientFromConn wraps an existing connection (in-process test
// listeners). The caller keeps ownership of conn.
func NewClientFromConn(conn *grpc.ClientConn, transformer string) *Client {
	return &Client{conn: conn, transformer: transformer}
}

// Transformer returns the bound transformer name.
func (c *Client) Transformer() string { return c.transformer }

// Address returns the dialed server address.
func (c *Client) Address() string { return c.address }

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp,
		grpc.CallContentSubtype(CodecName))
}

// IsBuilt asks the server whether this transformer has a built computation
// and refreshes the local flag.
func (c *Client) IsBuilt(ctx context.Context) (bool, error) {
	resp := new(IsBuiltResponse)
	err := c.invoke(ctx, "IsBuilt", &IsBuiltRequest{Transformer: c.transformer}, resp)
	if err != nil {
		return false, err
	}
	c.isTransBuilt = resp.Built
	return resp.Built, nil
}

// Build installs a program on the remote transformer.
func (c *Client) Build(ctx context.Context, req *BuildRequest) error {
	req.Transformer = c.transformer
	if err := c.invoke(ctx, "Build", req, new(BuildResponse)); err != nil {
		return err
	}
	c.isTransBuilt = true
	return nil
}

// Execute runs the installed program with the given encoded inputs.
func (c *Client) Execute(ctx context.Context, inputs map[int][]byte) (map[int][]byte, error) {
	if !c.isTransBuilt {
		return nil, errors.Errorf("worker: transformer %v has no built computation", c.transformer)
	}
	resp := new(ExecuteResponse)
	req := &ExecuteRequest{Transformer: c.transformer, Inputs: inputs}
	if err := c.invoke(ctx, "Execute", req, resp); err != nil {
		return nil, err
	}
	return resp.Outputs, nil
}

// Close releases the remote program and, for owned connections, the
// connection itself.
func (c *Client) Close(ctx context.Context) error {
	err := c.invoke(ctx, "Close", &CloseRequest{Transformer: c.transformer}, new(CloseResponse))
	c.isTransBuilt = false
	if c.ownsConn {
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
