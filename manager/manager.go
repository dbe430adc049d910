// Package manager owns the lifetime of every tool-server session: it spawns
// each configured server, drives the handshake and tool discovery, populates
// the registry, and guarantees shutdown of every subprocess on exit.
package manager

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/mcp"
	"github.com/nimbus-ai/nimbus/mcp/transport/stdiotransport"
	"github.com/nimbus-ai/nimbus/tools"
)

var logger = xlog.NewPackageLogger("github.com/nimbus-ai/nimbus", "manager")

// ErrNoServersAvailable is returned by ConnectAll when every configured
// server failed to become available.
var ErrNoServersAvailable = errors.New("no tool servers available")

// ServerSpec describes how to launch one tool server. Immutable once built
// from configuration.
type ServerSpec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// Session is the slice of a connected session the manager tracks. Satisfied
// by *mcp.Client.
type Session interface {
	Name() string
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallToolResult, error)
	Close() error
}

// Connector dials one server: it must return a session that has completed
// its handshake and is ready for requests.
type Connector func(ctx context.Context, spec ServerSpec) (Session, error)

// Option configures a Manager.
type Option func(*Manager)

// WithConnector overrides how sessions are established. Used by tests and by
// callers with non-subprocess transports.
func WithConnector(connect Connector) Option {
	return func(m *Manager) {
		m.connect = connect
	}
}

// WithRequestTimeout sets the per-request timeout applied to every session.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.requestTimeout = timeout
	}
}

// Manager creates one session per ServerSpec and registers the discovered
// tools. ShutdownAll must run on every exit path of the owning process.
type Manager struct {
	registry       *tools.Registry
	connect        Connector
	requestTimeout time.Duration

	mu       sync.Mutex
	sessions []Session
}

// New creates a Manager that populates the given registry.
func New(registry *tools.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.connect == nil {
		m.connect = m.connectStdio
	}
	return m
}

func (m *Manager) connectStdio(ctx context.Context, spec ServerSpec) (Session, error) {
	var clientOpts []mcp.ClientOption
	if m.requestTimeout > 0 {
		clientOpts = append(clientOpts, mcp.WithRequestTimeout(m.requestTimeout))
	}
	client := mcp.NewClient(spec.Name, clientOpts...)

	tr := stdiotransport.NewCommand(spec.Command, spec.Args, spec.Env)
	if err := client.Start(ctx, tr); err != nil {
		return nil, errors.WithMessagef(err, "failed to start %s", spec.Name)
	}
	if _, err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// ConnectAll establishes a session for each spec, in the given order. A
// server that fails to start, initialize, or list its tools is skipped with
// a warning; one bad server must not take the others down. When every server
// fails, ErrNoServersAvailable is returned.
func (m *Manager) ConnectAll(ctx context.Context, specs []ServerSpec) error {
	connected := 0
	for _, spec := range specs {
		if err := m.connectOne(ctx, spec); err != nil {
			logger.KV(xlog.WARNING,
				"status", "server_unavailable",
				"server", spec.Name,
				"err", err.Error(),
			)
			continue
		}
		connected++
	}

	if connected == 0 {
		return errors.WithMessagef(ErrNoServersAvailable, "%d configured", len(specs))
	}
	logger.KV(xlog.INFO,
		"status", "connected",
		"servers", connected,
		"tools", m.registry.Len(),
	)
	return nil
}

func (m *Manager) connectOne(ctx context.Context, spec ServerSpec) error {
	session, err := m.connect(ctx, spec)
	if err != nil {
		return err
	}

	descriptors, err := session.ListTools(ctx)
	if err != nil {
		_ = session.Close()
		return errors.WithMessagef(err, "failed to discover tools on %s", spec.Name)
	}

	m.registry.Register(session, descriptors)
	m.mu.Lock()
	m.sessions = append(m.sessions, session)
	m.mu.Unlock()

	logger.KV(xlog.DEBUG,
		"status", "server_connected",
		"server", spec.Name,
		"tools", len(descriptors),
	)
	return nil
}

// Sessions returns the currently connected sessions.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Session(nil), m.sessions...)
}

// ShutdownAll closes every session regardless of individual failures, so no
// subprocess outlives the manager. Idempotent.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()

	for _, session := range sessions {
		if err := session.Close(); err != nil {
			logger.KV(xlog.WARNING,
				"status", "shutdown_error",
				"server", session.Name(),
				"err", err.Error(),
			)
		}
	}
}
