package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls cloudcode.v1.Functions.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Invoke runs a function remotely and returns the webhook-shaped result.
func (c *Client) Invoke(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	return c.call(ctx, InvokeMethod, map[string]any{"name": name, "params": orEmpty(params)})
}

// StartJob starts a job remotely and returns its run id.
func (c *Client) StartJob(ctx context.Context, name string, params map[string]any) (string, error) {
	out, err := c.call(ctx, StartJobMethod, map[string]any{"name": name, "params": orEmpty(params)})
	if err != nil {
		return "", err
	}
	id, _ := out["jobStatusId"].(string)
	return id, nil
}

// GetJobRun fetches the status of a run.
func (c *Client) GetJobRun(ctx context.Context, id string) (map[string]any, error) {
	return c.call(ctx, GetJobRunMethod, map[string]any{"id": id})
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
