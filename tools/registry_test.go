package tools_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/nimbus-ai/nimbus/mcp"
	"github.com/nimbus-ai/nimbus/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	name string
	call func(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallToolResult, error)
}

func (f *fakeSession) Name() string { return f.name }

func (f *fakeSession) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallToolResult, error) {
	return f.call(ctx, name, arguments)
}

func descriptor(name string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: "tool " + name,
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
}

func TestRegisterAndResolve(t *testing.T) {
	session := &fakeSession{
		name: "alpha",
		call: func(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("%s(%s)", name, arguments))},
			}, nil
		},
	}

	r := tools.NewRegistry()
	r.Register(session, []mcp.Tool{descriptor("get_alerts"), descriptor("get_forecast")})

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"get_alerts", "get_forecast"}, r.ToolNames())

	tool, err := r.Resolve("get_alerts")
	require.NoError(t, err)
	assert.Equal(t, "get_alerts", tool.Name())
	assert.Equal(t, "tool get_alerts", tool.Description())
	assert.JSONEq(t, `{"type":"object"}`, string(tool.Parameters()))
	assert.Equal(t, session, tool.Session())

	out, err := tool.Call(context.Background(), `{"state":"CA"}`)
	require.NoError(t, err)
	assert.Equal(t, `get_alerts({"state":"CA"})`, out)
}

func TestResolveUnknown(t *testing.T) {
	r := tools.NewRegistry()
	_, err := r.Resolve("nope")
	require.ErrorIs(t, err, tools.ErrUnknownTool)
	assert.Contains(t, err.Error(), "nope")
}

func TestDuplicateNameLastWins(t *testing.T) {
	first := &fakeSession{
		name: "first",
		call: func(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("from first")}}, nil
		},
	}
	second := &fakeSession{
		name: "second",
		call: func(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("from second")}}, nil
		},
	}

	r := tools.NewRegistry()
	r.Register(first, []mcp.Tool{descriptor("lookup"), descriptor("only_first")})
	r.Register(second, []mcp.Tool{descriptor("lookup")})

	// The duplicate collapses into one aggregated entry owned by the later
	// server.
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"only_first", "lookup"}, r.ToolNames())

	tool, err := r.Resolve("lookup")
	require.NoError(t, err)
	out, err := tool.Call(context.Background(), `{}`)
	require.NoError(t, err)
	assert.Equal(t, "from second", out)
}

func TestAggregationOrder(t *testing.T) {
	a := &fakeSession{name: "a"}
	b := &fakeSession{name: "b"}

	r := tools.NewRegistry()
	r.Register(a, []mcp.Tool{descriptor("t1"), descriptor("t2")})
	r.Register(b, []mcp.Tool{descriptor("t3")})

	descriptors := r.AllDescriptors()
	require.Len(t, descriptors, 3)
	assert.Equal(t, "t1", descriptors[0].Name)
	assert.Equal(t, "t2", descriptors[1].Name)
	assert.Equal(t, "t3", descriptors[2].Name)

	list := r.Tools()
	require.Len(t, list, 3)
	assert.Equal(t, "t1", list[0].Name())
}

func TestLLMToolDefs(t *testing.T) {
	a := &fakeSession{name: "a"}

	r := tools.NewRegistry()
	r.Register(a, []mcp.Tool{descriptor("get_lat_long")})

	defs := r.LLMToolDefs()
	require.Len(t, defs, 1)
	assert.Equal(t, "function", defs[0].Type)
	require.NotNil(t, defs[0].Function)
	assert.Equal(t, "get_lat_long", defs[0].Function.Name)
	assert.Equal(t, "tool get_lat_long", defs[0].Function.Description)
	assert.JSONEq(t, `{"type":"object"}`, string(defs[0].Function.Parameters))
}
