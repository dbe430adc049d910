package tools

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/mcp"
	"github.com/nimbus-ai/nimbus/pkg/llms"
)

var logger = xlog.NewPackageLogger("github.com/nimbus-ai/nimbus", "tools")

// ErrUnknownTool is returned when a name resolves to no registered tool.
var ErrUnknownTool = errors.New("unknown tool")

// Session is the slice of the transport session the registry needs: a stable
// name and the ability to invoke a tool. Satisfied by *mcp.Client.
type Session interface {
	Name() string
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallToolResult, error)
}

// SessionTool is one registered tool bound to the session that owns it.
// It adapts the session's invocation contract to the ITool interface.
type SessionTool struct {
	descriptor mcp.Tool
	session    Session
}

var _ ITool = (*SessionTool)(nil)

// Name implements ITool.Name.
func (t *SessionTool) Name() string {
	return t.descriptor.Name
}

// Description implements ITool.Description.
func (t *SessionTool) Description() string {
	return t.descriptor.Description
}

// Parameters implements ITool.Parameters.
func (t *SessionTool) Parameters() json.RawMessage {
	return t.descriptor.InputSchema
}

// Session returns the session that owns this tool.
func (t *SessionTool) Session() Session {
	return t.session
}

// Call invokes the tool on its owning session and returns the textual result.
func (t *SessionTool) Call(ctx context.Context, input string) (string, error) {
	result, err := t.session.CallTool(ctx, t.descriptor.Name, json.RawMessage(input))
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// Registry aggregates tools discovered from every active session into one
// flat namespace, remembering which session owns each name. It is populated
// during startup, before the orchestrator begins dispatching, and is
// read-only afterwards; no locking is required under that discipline.
type Registry struct {
	byName  map[string]*SessionTool
	ordered []*SessionTool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*SessionTool),
	}
}

// Register adds each descriptor under its name, bound to the owning session.
// When two servers declare the same tool name, the later registration wins
// and a warning is logged; the earlier entry drops out of the aggregated
// order.
func (r *Registry) Register(session Session, descriptors []mcp.Tool) {
	for _, descriptor := range descriptors {
		tool := &SessionTool{
			descriptor: descriptor,
			session:    session,
		}
		if prev, ok := r.byName[descriptor.Name]; ok {
			logger.KV(xlog.WARNING,
				"status", "duplicate_tool_name",
				"tool", descriptor.Name,
				"previous_server", prev.session.Name(),
				"server", session.Name(),
			)
			for i, t := range r.ordered {
				if t == prev {
					r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
					break
				}
			}
		}
		r.byName[descriptor.Name] = tool
		r.ordered = append(r.ordered, tool)
	}
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (*SessionTool, error) {
	tool, ok := r.byName[name]
	if !ok {
		return nil, errors.WithMessagef(ErrUnknownTool, "%s", name)
	}
	return tool, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// ToolNames returns the registered tool names in registration order.
func (r *Registry) ToolNames() []string {
	names := make([]string, 0, len(r.ordered))
	for _, tool := range r.ordered {
		names = append(names, tool.descriptor.Name)
	}
	return names
}

// AllDescriptors returns every registered descriptor in registration order:
// sessions in the order they registered, tools in discovery order within
// each session. The order is stable across calls within one process run.
func (r *Registry) AllDescriptors() []mcp.Tool {
	descriptors := make([]mcp.Tool, 0, len(r.ordered))
	for _, tool := range r.ordered {
		descriptors = append(descriptors, tool.descriptor)
	}
	return descriptors
}

// Tools returns every registered tool as an ITool, in the same stable order
// as AllDescriptors.
func (r *Registry) Tools() []ITool {
	list := make([]ITool, 0, len(r.ordered))
	for _, tool := range r.ordered {
		list = append(list, tool)
	}
	return list
}

// LLMToolDefs converts the aggregated descriptors into the tool definitions
// passed to the model on every round.
func (r *Registry) LLMToolDefs() []llms.Tool {
	defs := make([]llms.Tool, 0, len(r.ordered))
	for _, tool := range r.ordered {
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        tool.descriptor.Name,
				Description: tool.descriptor.Description,
				Parameters:  tool.descriptor.InputSchema,
			},
		})
	}
	return defs
}
