package messaging

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Transport carries one request to the background and returns its reply.
// Router (in process) and Conn (over a stream) implement it.
type Transport interface {
	Send(ctx context.Context, req Request) (Reply, error)
}

// Client is the content side's view of the channel.
type Client struct {
	transport Transport
	logger    *zap.Logger
}

// NewClient wraps a transport.
func NewClient(t Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{transport: t, logger: logger.Named("client")}
}

// Send builds a request for action from payload and waits for the reply.
// A transport failure is returned as an error; a failure reply is not.
func (c *Client) Send(ctx context.Context, action string, payload any) (Reply, error) {
	req, err := NewRequest(action, payload)
	if err != nil {
		return Reply{}, err
	}
	start := time.Now()
	rep, err := c.transport.Send(ctx, req)
	if err != nil {
		c.logger.Warn("Request failed", zap.String("action", action), zap.Error(err))
		return Reply{}, err
	}
	c.logger.Debug("Request answered",
		zap.String("action", action),
		zap.Bool("success", rep.Success),
		zap.Duration("elapsed", time.Since(start)))
	return rep, nil
}

// Call sends a request and decodes a successful reply's data into out. A
// failure reply is returned as a *RemoteError.
func (c *Client) Call(ctx context.Context, action string, payload, out any) error {
	rep, err := c.Send(ctx, action, payload)
	if err != nil {
		return err
	}
	if err := rep.Err(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return rep.Decode(out)
}
