package mcp

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/mcp/internal/protocol"
	"github.com/nimbus-ai/nimbus/mcp/transport"
	"github.com/nimbus-ai/nimbus/pkg/schema"
)

// ToolHandler serves one tools/call invocation with raw JSON arguments.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (*CallToolResult, error)

// Server exposes a set of registered tools over one transport connection.
// Tools must be registered before Serve.
type Server struct {
	info  Implementation
	proto *protocol.Protocol

	mu       sync.RWMutex
	tools    []Tool
	handlers map[string]ToolHandler
	done     chan struct{}
}

// NewServer creates a server identified by name and version in the handshake.
func NewServer(name, version string) *Server {
	return &Server{
		info:     Implementation{Name: name, Version: version},
		proto:    protocol.New(),
		handlers: make(map[string]ToolHandler),
		done:     make(chan struct{}),
	}
}

// RegisterToolHandler registers a tool with an explicit input schema.
func (s *Server) RegisterToolHandler(tool Tool, handler ToolHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[tool.Name]; ok {
		return errors.Newf("tool %q is already registered", tool.Name)
	}
	s.tools = append(s.tools, tool)
	s.handlers[tool.Name] = handler
	return nil
}

// RegisterTool registers a typed tool. The input schema is reflected from I;
// the handler returns the text handed back to the caller. A handler error
// becomes a tool-error result rather than a protocol failure.
func RegisterTool[I any](s *Server, name, description string, handler func(ctx context.Context, input *I) (string, error)) error {
	var input I
	sc, err := schema.New(reflect.TypeOf(input))
	if err != nil {
		return errors.WithMessagef(err, "failed to reflect input schema for %s", name)
	}
	inputSchema, err := json.Marshal(sc.Parameters)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal input schema for %s", name)
	}

	tool := Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
	}
	return s.RegisterToolHandler(tool, func(ctx context.Context, arguments json.RawMessage) (*CallToolResult, error) {
		in := new(I)
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, in); err != nil {
				return nil, errors.Wrapf(err, "invalid arguments for %s", name)
			}
		}
		text, err := handler(ctx, in)
		if err != nil {
			return &CallToolResult{
				Content: []Content{NewTextContent(err.Error())},
				IsError: true,
			}, nil
		}
		return &CallToolResult{
			Content: []Content{NewTextContent(text)},
		}, nil
	})
}

// Serve attaches the server to a transport and blocks until the connection
// closes or the context is cancelled.
func (s *Server) Serve(ctx context.Context, tr transport.Transport) error {
	s.proto.SetRequestHandler(MethodInitialize, s.handleInitialize)
	s.proto.SetRequestHandler(MethodListTools, s.handleListTools)
	s.proto.SetRequestHandler(MethodCallTool, s.handleCallTool)
	s.proto.SetNotificationHandler(NotificationInitialized, func(*transport.BaseJSONRPCNotification) error {
		logger.KV(xlog.DEBUG, "server", s.info.Name, "status", "client_initialized")
		return nil
	})
	s.proto.OnClose = func() {
		close(s.done)
	}

	if err := s.proto.Connect(ctx, tr); err != nil {
		return errors.WithMessage(err, "failed to start server transport")
	}

	select {
	case <-ctx.Done():
		_ = s.proto.Close()
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

func (s *Server) handleInitialize(ctx context.Context, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	var params InitializeParams
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			return nil, errors.Wrap(err, "malformed initialize params")
		}
	}
	logger.KV(xlog.DEBUG,
		"server", s.info.Name,
		"status", "handshake",
		"client_name", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
	)
	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: s.info,
	}, nil
}

func (s *Server) handleListTools(ctx context.Context, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	s.mu.RLock()
	tools := make([]Tool, len(s.tools))
	copy(tools, s.tools)
	s.mu.RUnlock()
	return &ListToolsResult{Tools: tools}, nil
}

func (s *Server) handleCallTool(ctx context.Context, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	var params CallToolParams
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return nil, errors.Wrap(err, "malformed tools/call params")
	}

	s.mu.RLock()
	handler := s.handlers[params.Name]
	s.mu.RUnlock()
	if handler == nil {
		return nil, errors.Newf("unknown tool: %s", params.Name)
	}

	return handler(ctx, params.Arguments)
}
