package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/mcp/internal/protocol"
	"github.com/nimbus-ai/nimbus/mcp/transport"
)

var logger = xlog.NewPackageLogger("github.com/nimbus-ai/nimbus", "mcp")

var (
	// ErrNotInitialized is returned when a request is attempted before the
	// handshake has completed. Calls fail fast rather than block.
	ErrNotInitialized = errors.New("session is not initialized")
	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("session is already initialized")
	// ErrToolInvocation is returned when the server reports a tool failure.
	ErrToolInvocation = errors.New("tool invocation failed")
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout overrides the default per-request timeout.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

// WithClientInfo overrides the implementation info sent in the handshake.
func WithClientInfo(info Implementation) ClientOption {
	return func(c *Client) {
		c.clientInfo = info
	}
}

// Client is a stateful session over one live tool server. The handshake must
// complete exactly once before any other request; Close terminates the
// server process and resolves any in-flight request.
type Client struct {
	name           string
	proto          *protocol.Protocol
	requestTimeout time.Duration
	clientInfo     Implementation

	mu          sync.Mutex
	initialized bool
	serverInfo  Implementation
}

// NewClient creates a session over the given transport. The name identifies
// the server in logs and in the tool registry.
func NewClient(name string, opts ...ClientOption) *Client {
	c := &Client{
		name:           name,
		proto:          protocol.New(),
		requestTimeout: protocol.DefaultRequestTimeout,
		clientInfo:     Implementation{Name: "nimbus", Version: "1.0.0"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.name
}

// Start attaches the session to its transport and begins reading frames.
func (c *Client) Start(ctx context.Context, tr transport.Transport) error {
	c.proto.OnError = func(err error) {
		logger.KV(xlog.WARNING, "server", c.name, "status", "session_error", "err", err.Error())
	}
	return c.proto.Connect(ctx, tr)
}

// Initialize runs the handshake: it sends the initialize request, waits for
// the server's response, and confirms with the initialized notification.
// Must be called exactly once before ListTools or CallTool.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil, errors.WithStack(ErrAlreadyInitialized)
	}
	c.mu.Unlock()

	params := &InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      c.clientInfo,
	}
	raw, err := c.proto.Request(ctx, MethodInitialize, params, &protocol.RequestOptions{Timeout: c.requestTimeout})
	if err != nil {
		return nil, errors.WithMessagef(err, "handshake with %s failed", c.name)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrapf(err, "malformed handshake response from %s", c.name)
	}

	if err := c.proto.Notification(ctx, NotificationInitialized, nil); err != nil {
		return nil, errors.WithMessagef(err, "failed to confirm handshake with %s", c.name)
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	logger.KV(xlog.DEBUG,
		"server", c.name,
		"status", "initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
	)
	return &result, nil
}

func (c *Client) requireInitialized() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return errors.WithStack(ErrNotInitialized)
	}
	return nil
}

// ListTools returns the tools the server exposes, in the order the server
// reports them.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}

	raw, err := c.proto.Request(ctx, MethodListTools, nil, &protocol.RequestOptions{Timeout: c.requestTimeout})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to list tools on %s", c.name)
	}

	var result ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrapf(err, "malformed tools/list response from %s", c.name)
	}
	return result.Tools, nil
}

// CallTool invokes a tool by name with JSON arguments and returns its result
// payload. A failure reported by the tool maps to ErrToolInvocation.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*CallToolResult, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}

	params := &CallToolParams{
		Name:      name,
		Arguments: arguments,
	}
	raw, err := c.proto.Request(ctx, MethodCallTool, params, &protocol.RequestOptions{Timeout: c.requestTimeout})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to call %s on %s", name, c.name)
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrapf(err, "malformed tools/call response from %s", c.name)
	}
	if result.IsError {
		return &result, errors.WithMessagef(ErrToolInvocation, "%s: %s", name, result.Text())
	}
	return &result, nil
}

// Close terminates the session and its server process. Idempotent; safe to
// call after a prior failure.
func (c *Client) Close() error {
	return c.proto.Close()
}
