package manager_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/nimbus-ai/nimbus/manager"
	"github.com/nimbus-ai/nimbus/mcp"
	"github.com/nimbus-ai/nimbus/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServerSession struct {
	name      string
	tools     []mcp.Tool
	listErr   error
	closed    atomic.Int32
	callCount atomic.Int32
}

func (f *fakeServerSession) Name() string { return f.name }

func (f *fakeServerSession) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeServerSession) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallToolResult, error) {
	f.callCount.Add(1)
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("ok")}}, nil
}

func (f *fakeServerSession) Close() error {
	f.closed.Add(1)
	return nil
}

func tool(name string) mcp.Tool {
	return mcp.Tool{Name: name, InputSchema: json.RawMessage(`{"type":"object"}`)}
}

func TestConnectAll(t *testing.T) {
	sessions := map[string]*fakeServerSession{
		"weather": {name: "weather", tools: []mcp.Tool{tool("get_alerts"), tool("get_forecast")}},
		"search":  {name: "search", tools: []mcp.Tool{tool("web_search")}},
	}
	connect := func(ctx context.Context, spec manager.ServerSpec) (manager.Session, error) {
		return sessions[spec.Name], nil
	}

	registry := tools.NewRegistry()
	m := manager.New(registry, manager.WithConnector(connect))

	err := m.ConnectAll(context.Background(), []manager.ServerSpec{
		{Name: "weather", Command: "weather-server"},
		{Name: "search", Command: "search-server"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, registry.Len())
	assert.Equal(t, []string{"get_alerts", "get_forecast", "web_search"}, registry.ToolNames())
	assert.Len(t, m.Sessions(), 2)
}

func TestConnectAllPartialFailure(t *testing.T) {
	good := &fakeServerSession{name: "good", tools: []mcp.Tool{tool("get_alerts")}}
	connect := func(ctx context.Context, spec manager.ServerSpec) (manager.Session, error) {
		if spec.Name == "bad" {
			return nil, errors.New("spawn failed")
		}
		return good, nil
	}

	registry := tools.NewRegistry()
	m := manager.New(registry, manager.WithConnector(connect))

	// One bad server must not take the good one down.
	err := m.ConnectAll(context.Background(), []manager.ServerSpec{
		{Name: "bad", Command: "missing-binary"},
		{Name: "good", Command: "weather-server"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, registry.Len())
	assert.Len(t, m.Sessions(), 1)
}

func TestConnectAllListToolsFailure(t *testing.T) {
	broken := &fakeServerSession{name: "broken", listErr: errors.New("discovery failed")}
	good := &fakeServerSession{name: "good", tools: []mcp.Tool{tool("get_alerts")}}
	connect := func(ctx context.Context, spec manager.ServerSpec) (manager.Session, error) {
		if spec.Name == "broken" {
			return broken, nil
		}
		return good, nil
	}

	registry := tools.NewRegistry()
	m := manager.New(registry, manager.WithConnector(connect))

	err := m.ConnectAll(context.Background(), []manager.ServerSpec{
		{Name: "broken", Command: "x"},
		{Name: "good", Command: "y"},
	})
	require.NoError(t, err)

	// A session that fails discovery is closed and not tracked.
	assert.Equal(t, int32(1), broken.closed.Load())
	assert.Len(t, m.Sessions(), 1)
	assert.Equal(t, 1, registry.Len())
}

func TestConnectAllNoServersAvailable(t *testing.T) {
	connect := func(ctx context.Context, spec manager.ServerSpec) (manager.Session, error) {
		return nil, errors.New("spawn failed")
	}

	m := manager.New(tools.NewRegistry(), manager.WithConnector(connect))
	err := m.ConnectAll(context.Background(), []manager.ServerSpec{
		{Name: "one", Command: "x"},
		{Name: "two", Command: "y"},
	})
	require.ErrorIs(t, err, manager.ErrNoServersAvailable)
}

func TestShutdownAll(t *testing.T) {
	a := &fakeServerSession{name: "a", tools: []mcp.Tool{tool("t1")}}
	b := &fakeServerSession{name: "b", tools: []mcp.Tool{tool("t2")}}
	sessions := []*fakeServerSession{a, b}
	i := 0
	connect := func(ctx context.Context, spec manager.ServerSpec) (manager.Session, error) {
		s := sessions[i]
		i++
		return s, nil
	}

	m := manager.New(tools.NewRegistry(), manager.WithConnector(connect))
	require.NoError(t, m.ConnectAll(context.Background(), []manager.ServerSpec{
		{Name: "a", Command: "x"},
		{Name: "b", Command: "y"},
	}))

	m.ShutdownAll()
	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, int32(1), b.closed.Load())
	assert.Empty(t, m.Sessions())

	// Idempotent: a second shutdown closes nothing twice.
	m.ShutdownAll()
	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, int32(1), b.closed.Load())
}

func TestStdioConnectFailure(t *testing.T) {
	// Default connector: a nonexistent binary fails to launch and the
	// manager reports no servers available.
	m := manager.New(tools.NewRegistry())
	err := m.ConnectAll(context.Background(), []manager.ServerSpec{
		{Name: "ghost", Command: "/nonexistent/tool-server"},
	})
	require.ErrorIs(t, err, manager.ErrNoServersAvailable)
	assert.Empty(t, m.Sessions())
}
