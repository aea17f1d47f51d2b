package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the timeline service over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req and returns the raw response.
func (c *Client) Call(ctx context.Context, method string, req map[string]interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CallInto invokes method and decodes the response into v.
func (c *Client) CallInto(ctx context.Context, method string, req map[string]interface{}, v interface{}, opts ...grpc.CallOption) error {
	out, err := c.Call(ctx, method, req, opts...)
	if err != nil {
		return err
	}
	return fromStruct(out, v)
}

// Import sends a payload to the server.
func (c *Client) Import(ctx context.Context, source string, payload []byte) (map[string]interface{}, error) {
	out, err := c.Call(ctx, MethodImport, map[string]interface{}{
		"source":  source,
		"payload": string(payload),
	})
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
