package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/driver"
	"github.com/hupe1980/exodus/logging"
)

// ClientOptions configure a Client.
type ClientOptions struct {
	// Timeout bounds one round trip when ctx carries no deadline.
	Timeout time.Duration
	Logger  logging.Logger
}

// Client talks to an executor daemon. It holds no connection; every call
// dials the socket afresh.
type Client struct {
	path string
	opts ClientOptions
}

// NewClient creates a client for the socket at path.
func NewClient(path string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{Timeout: DefaultConnTimeout, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if path == "" {
		path = DefaultSocketPath
	}
	return &Client{path: path, opts: opts}
}

// Path returns the socket path.
func (c *Client) Path() string { return c.path }

// Send performs one request/response round trip.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = core.NewID()
	}
	if _, ok := ctx.Deadline(); !ok && c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return Response{}, fmt.Errorf("executor unavailable at %s: %w", c.path, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c.opts.Logger.Debug("executor.client.send", "correlation_id", req.ID, "command", req.Command, "tool", req.ToolName)

	var resp Response
	if err := Encode(conn, req); err != nil {
		return Response{}, c.roundTripError(ctx, "write request", err)
	}
	if err := Decode(bufio.NewReader(conn), &resp); err != nil {
		return Response{}, c.roundTripError(ctx, "read response", err)
	}
	return resp, nil
}

func (c *Client) roundTripError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("executor %s: %s: %w", c.path, op, ctxErr)
	}
	return fmt.Errorf("executor %s: %s: %w", c.path, op, err)
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Send(ctx, Request{Command: CommandPing})
	if err != nil {
		return err
	}
	if text, _ := resp.Text(); !resp.OK() || text != "pong" {
		return fmt.Errorf("executor %s: unexpected ping response %s", c.path, resp.Message)
	}
	return nil
}

// ListTools returns the daemon's tools in registration order.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	resp, err := c.Send(ctx, Request{Command: CommandListTools})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		text, _ := resp.Text()
		return nil, fmt.Errorf("executor %s: list_tools: %s", c.path, text)
	}

	var infos []ToolInfo
	if err := json.Unmarshal(resp.Message, &infos); err != nil {
		return nil, fmt.Errorf("executor %s: list_tools: %w", c.path, errors.Join(core.ErrProtocolDecode, err))
	}
	return infos, nil
}

// Execute runs a tool in the daemon and returns its decoded payload. Error
// responses come back as *core.ToolError with the code parsed from the
// "<Code>: <detail>" message.
func (c *Client) Execute(ctx context.Context, toolName string, args map[string]any) (any, error) {
	resp, err := c.Send(ctx, Request{Command: CommandExecute, ToolName: toolName, ToolArgs: args})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		text, _ := resp.Text()
		return nil, ParseError(toolName, text)
	}

	var payload any
	if err := json.Unmarshal(resp.Message, &payload); err != nil {
		return nil, fmt.Errorf("executor %s: execute: %w", c.path, errors.Join(core.ErrProtocolDecode, err))
	}
	return payload, nil
}

// ParseError maps an error message of the wire protocol onto a
// *core.ToolError. Messages without a known code prefix become
// ExecutionFailure.
func ParseError(toolName, text string) *core.ToolError {
	if prefix, rest, ok := strings.Cut(text, ": "); ok {
		if code, known := core.ParseErrorCode(prefix); known {
			return core.NewToolError(code, toolName, rest)
		}
	}
	return core.NewToolError(core.CodeExecutionFailure, toolName, text)
}

var _ driver.Remote = (*Client)(nil)
