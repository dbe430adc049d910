// Package localtransport connects two protocol endpoints in the same
// process. Frames still pass through their wire encoding, so a client and a
// server can be exercised end to end without a subprocess.
package localtransport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/nimbus-ai/nimbus/mcp/transport"
)

// Transport is one half of an in-process pair. A message sent on one half is
// re-parsed from its serialized form and delivered to the other half's
// message handler.
type Transport struct {
	peer *Transport

	mu             sync.RWMutex
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()

	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// NewPair creates two connected transport halves.
func NewPair() (*Transport, *Transport) {
	a := &Transport{done: make(chan struct{})}
	b := &Transport{done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Start implements Transport.Start. The pair is connected at construction.
func (t *Transport) Start(ctx context.Context) error {
	return nil
}

// Send serializes the message and delivers it to the peer's handler.
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
	parsed, err := transport.UnmarshalMessage(data)
	if err != nil {
		return errors.WithMessage(err, "failed to reparse message")
	}

	t.peer.mu.RLock()
	handler := t.peer.messageHandler
	t.peer.mu.RUnlock()
	if handler == nil {
		return errors.New("peer has no message handler")
	}
	handler(ctx, parsed)
	return nil
}

// Close closes both halves of the pair. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.RLock()
		handler := t.closeHandler
		t.mu.RUnlock()
		if handler != nil {
			handler()
		}
		_ = t.peer.Close()
	})
	return nil
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
