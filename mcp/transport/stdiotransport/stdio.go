// Package stdiotransport implements the MCP transport over newline-delimited
// JSON frames on a byte stream pair, typically the stdin/stdout of a tool
// server subprocess spawned by this process.
package stdiotransport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/mcp/transport"
)

var logger = xlog.NewPackageLogger("github.com/nimbus-ai/nimbus/mcp", "stdiotransport")

// readBufferLimit bounds a single inbound frame. Tool results can carry large
// payloads, so the limit is generous.
const readBufferLimit = 10 * 1024 * 1024

// Transport exchanges newline-delimited JSON-RPC frames over a stream pair.
// When constructed with NewCommand it owns a subprocess whose stdin/stdout
// form that pair; when constructed with NewPipe the caller supplies the
// streams (used by servers reading their own stdin, and by tests).
type Transport struct {
	cmd    *exec.Cmd
	reader io.Reader
	writer io.WriteCloser

	mu             sync.RWMutex
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	started   bool
}

var _ transport.Transport = (*Transport)(nil)

// NewCommand creates a transport that will spawn the given command on Start
// and speak over its stdin/stdout. Extra environment entries are appended to
// the current process environment.
func NewCommand(command string, args []string, env map[string]string) *Transport {
	cmd := exec.Command(command, args...)
	if len(env) > 0 {
		environ := os.Environ()
		for k, v := range env {
			environ = append(environ, k+"="+v)
		}
		cmd.Env = environ
	}
	// The server's stderr is for its own diagnostics, not protocol frames.
	cmd.Stderr = os.Stderr
	return &Transport{
		cmd:  cmd,
		done: make(chan struct{}),
	}
}

// NewPipe creates a transport over caller-supplied streams.
func NewPipe(reader io.Reader, writer io.WriteCloser) *Transport {
	return &Transport{
		reader: reader,
		writer: writer,
		done:   make(chan struct{}),
	}
}

// Start spawns the subprocess if one is configured and begins the read loop.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("transport already started")
	}
	t.started = true
	t.mu.Unlock()

	if t.cmd != nil {
		stdin, err := t.cmd.StdinPipe()
		if err != nil {
			return errors.Wrap(err, "failed to open stdin pipe")
		}
		stdout, err := t.cmd.StdoutPipe()
		if err != nil {
			return errors.Wrap(err, "failed to open stdout pipe")
		}
		t.writer = stdin
		t.reader = stdout

		if err := t.cmd.Start(); err != nil {
			return errors.Wrapf(err, "failed to launch %q", t.cmd.Path)
		}
		logger.KV(xlog.DEBUG, "status", "launched", "command", t.cmd.Path, "pid", t.cmd.Process.Pid)
	}

	go t.readLoop(ctx)
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), readBufferLimit)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		message, err := transport.UnmarshalMessage(line)
		if err != nil {
			t.handleError(errors.WithMessage(err, "discarding unparsable frame"))
			continue
		}

		t.mu.RLock()
		handler := t.messageHandler
		t.mu.RUnlock()
		if handler != nil {
			handler(ctx, message)
		}
	}
	if err := scanner.Err(); err != nil {
		t.handleError(errors.Wrap(err, "read loop terminated"))
	}
	// Stream ended: the peer exited or the transport was closed.
	t.Close()
}

// Send writes a single frame followed by a newline. Frames are serialized by
// a write lock so concurrent callers never interleave bytes on the stream.
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	select {
	case <-t.done:
		return errors.New("transport is closed")
	default:
	}

	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Close terminates the subprocess, releases the streams and fires the close
// handler. Safe to call multiple times and after failures.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		if t.writer != nil {
			_ = t.writer.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
			_ = t.cmd.Wait()
		}

		t.mu.RLock()
		handler := t.closeHandler
		t.mu.RUnlock()
		if handler != nil {
			handler()
		}
	})
	return nil
}

func (t *Transport) handleError(err error) {
	logger.KV(xlog.DEBUG, "status", "transport_error", "err", err.Error())
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

// SetMessageHandler implements Transport.SetMessageHandler.
func (t *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler.
func (t *Transport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetCloseHandler implements Transport.SetCloseHandler.
func (t *Transport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}
