// Package protocol implements JSON-RPC framing on top of a pluggable
// transport: request-id allocation, response correlation, per-request
// timeouts, and request/notification handler dispatch for the serving side.
package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/mcp/transport"
)

var logger = xlog.NewPackageLogger("github.com/nimbus-ai/nimbus/mcp", "protocol")

// DefaultRequestTimeout bounds every request unless overridden per call. An
// unresponsive peer must never hang the caller indefinitely.
const DefaultRequestTimeout = 30 * time.Second

// RequestHandler serves one inbound method call.
type RequestHandler func(ctx context.Context, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error)

// NotificationHandler consumes one inbound notification.
type NotificationHandler func(notification *transport.BaseJSONRPCNotification) error

// RequestOptions contains options applied to a single outbound request.
type RequestOptions struct {
	// Timeout overrides DefaultRequestTimeout when positive.
	Timeout time.Duration
}

type responseEnvelope struct {
	result json.RawMessage
	err    error
}

// Protocol multiplexes request/response exchanges over one transport
// connection. Responses are matched to their pending request by id; inbound
// frames that correlate to no pending request are logged and dropped so they
// can never be delivered to the wrong waiter.
type Protocol struct {
	tr transport.Transport

	mu               sync.Mutex
	requestMessageID transport.RequestId
	pending          map[transport.RequestId]chan *responseEnvelope

	handlersMu           sync.RWMutex
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler

	// OnClose is invoked after the connection closes and every pending
	// request has been resolved with an error.
	OnClose func()
	// OnError is invoked for out-of-band errors reported by the transport.
	OnError func(error)
}

// New creates an unconnected Protocol.
func New() *Protocol {
	return &Protocol{
		pending:              make(map[transport.RequestId]chan *responseEnvelope),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
	}
}

// Connect attaches the protocol to a transport and starts it.
func (p *Protocol) Connect(ctx context.Context, tr transport.Transport) error {
	p.tr = tr

	tr.SetCloseHandler(func() {
		p.handleClose()
	})
	tr.SetErrorHandler(func(err error) {
		if p.OnError != nil {
			p.OnError(err)
		}
	})
	tr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		switch message.Type {
		case transport.BaseMessageTypeJSONRPCRequestType:
			p.handleRequest(ctx, message.JsonRpcRequest)
		case transport.BaseMessageTypeJSONRPCNotificationType:
			p.handleNotification(message.JsonRpcNotification)
		case transport.BaseMessageTypeJSONRPCResponseType:
			p.handleResponse(message.JsonRpcResponse.Id, message.JsonRpcResponse.Result, nil)
		case transport.BaseMessageTypeJSONRPCErrorType:
			p.handleResponse(message.JsonRpcError.Id, nil,
				errors.Newf("RPC error %d: %s", message.JsonRpcError.Error.Code, message.JsonRpcError.Error.Message))
		}
	})

	return tr.Start(ctx)
}

// Close closes the underlying transport; the close handler resolves every
// pending request.
func (p *Protocol) Close() error {
	if p.tr != nil {
		return p.tr.Close()
	}
	return nil
}

func (p *Protocol) handleClose() {
	p.mu.Lock()
	for id, ch := range p.pending {
		ch <- &responseEnvelope{err: errors.New("connection closed")}
		close(ch)
		delete(p.pending, id)
	}
	p.mu.Unlock()

	if p.OnClose != nil {
		p.OnClose()
	}
}

func (p *Protocol) handleResponse(id transport.RequestId, result json.RawMessage, errResp error) {
	p.mu.Lock()
	ch := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()

	if ch == nil {
		// Either a duplicate response or one for a request that already
		// timed out. Never deliver it to another waiter.
		logger.KV(xlog.WARNING, "status", "uncorrelated_response", "id", id)
		return
	}
	ch <- &responseEnvelope{result: result, err: errResp}
	close(ch)
}

func (p *Protocol) handleNotification(notification *transport.BaseJSONRPCNotification) {
	p.handlersMu.RLock()
	handler := p.notificationHandlers[notification.Method]
	p.handlersMu.RUnlock()

	if handler == nil {
		logger.KV(xlog.DEBUG, "status", "notification_discarded", "method", notification.Method)
		return
	}
	if err := handler(notification); err != nil && p.OnError != nil {
		p.OnError(errors.WithMessagef(err, "notification handler %s", notification.Method))
	}
}

func (p *Protocol) handleRequest(ctx context.Context, request *transport.BaseJSONRPCRequest) {
	p.handlersMu.RLock()
	handler := p.requestHandlers[request.Method]
	p.handlersMu.RUnlock()

	go func() {
		if handler == nil {
			p.sendErrorResponse(ctx, request.Id, errors.Newf("method not found: %s", request.Method))
			return
		}

		result, err := handler(ctx, request)
		if err != nil {
			logger.KV(xlog.DEBUG, "method", request.Method, "id", request.Id, "err", err.Error())
			p.sendErrorResponse(ctx, request.Id, err)
			return
		}

		body, err := json.Marshal(result)
		if err != nil {
			p.sendErrorResponse(ctx, request.Id, errors.Wrap(err, "failed to marshal result"))
			return
		}
		response := &transport.BaseJSONRPCResponse{
			Jsonrpc: "2.0",
			Id:      request.Id,
			Result:  body,
		}
		if err := p.tr.Send(ctx, transport.NewBaseMessageResponse(response)); err != nil && p.OnError != nil {
			p.OnError(errors.Wrap(err, "failed to send response"))
		}
	}()
}

func (p *Protocol) sendErrorResponse(ctx context.Context, id transport.RequestId, cause error) {
	response := &transport.BaseJSONRPCError{
		Jsonrpc: "2.0",
		Id:      id,
		Error: transport.BaseJSONRPCErrorInner{
			Code:    -32000,
			Message: cause.Error(),
		},
	}
	if err := p.tr.Send(ctx, transport.NewBaseMessageError(response)); err != nil && p.OnError != nil {
		p.OnError(errors.Wrap(err, "failed to send error response"))
	}
}

// Request sends a request and blocks until the correlated response, an error,
// a timeout, or context cancellation. Every call allocates a fresh id; ids
// are never reused while a request is in flight.
func (p *Protocol) Request(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	if p.tr == nil {
		return nil, errors.New("not connected")
	}

	timeout := DefaultRequestTimeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	var body json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal params")
		}
		body = data
	}

	p.mu.Lock()
	id := p.requestMessageID
	p.requestMessageID++
	ch := make(chan *responseEnvelope, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	request := &transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  body,
		Id:      id,
	}
	if err := p.tr.Send(ctx, transport.NewBaseMessageRequest(request)); err != nil {
		p.drop(id)
		return nil, errors.WithMessagef(err, "failed to send %s request", method)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case envelope := <-ch:
		if envelope.err != nil {
			return nil, envelope.err
		}
		return envelope.result, nil
	case <-ctx.Done():
		p.drop(id)
		return nil, ctx.Err()
	case <-timer.C:
		p.drop(id)
		return nil, errors.Newf("request %s timed out after %v", method, timeout)
	}
}

func (p *Protocol) drop(id transport.RequestId) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// Notification sends a one-way message that expects no response.
func (p *Protocol) Notification(ctx context.Context, method string, params any) error {
	if p.tr == nil {
		return errors.New("not connected")
	}

	var body json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to marshal notification params")
		}
		body = data
	}

	notification := &transport.BaseJSONRPCNotification{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  body,
	}
	return p.tr.Send(ctx, transport.NewBaseMessageNotification(notification))
}

// SetRequestHandler registers the handler invoked for inbound requests with
// the given method.
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.handlersMu.Lock()
	p.requestHandlers[method] = handler
	p.handlersMu.Unlock()
}

// SetNotificationHandler registers the handler invoked for inbound
// notifications with the given method.
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.handlersMu.Lock()
	p.notificationHandlers[method] = handler
	p.handlersMu.Unlock()
}
