// Package transport defines the wire-level JSON-RPC message types and the
// Transport contract shared by all MCP connection kinds.
package transport

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// RequestId is a unique identifier for a request within one connection.
type RequestId int64

// JsonRpcBody is a result payload of a JSON-RPC response.
type JsonRpcBody any

// BaseJSONRPCRequest is a request that expects a response with the same Id.
type BaseJSONRPCRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Id      RequestId       `json:"id"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCNotification is a one-way message that carries no Id.
type BaseJSONRPCNotification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCResponse is a successful response correlated by Id.
type BaseJSONRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// BaseJSONRPCErrorInner carries the error code and message of a failed call.
type BaseJSONRPCErrorInner struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BaseJSONRPCError is an error response correlated by Id.
type BaseJSONRPCError struct {
	Jsonrpc string                `json:"jsonrpc"`
	Id      RequestId             `json:"id"`
	Error   BaseJSONRPCErrorInner `json:"error"`
}

// BaseMessageType discriminates the four JSON-RPC message kinds.
type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJsonRpcMessage is a tagged union over the four message kinds.
type BaseJsonRpcMessage struct {
	Type                BaseMessageType
	JsonRpcRequest      *BaseJSONRPCRequest
	JsonRpcNotification *BaseJSONRPCNotification
	JsonRpcResponse     *BaseJSONRPCResponse
	JsonRpcError        *BaseJSONRPCError
}

// NewBaseMessageRequest wraps a request into a BaseJsonRpcMessage.
func NewBaseMessageRequest(request *BaseJSONRPCRequest) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:           BaseMessageTypeJSONRPCRequestType,
		JsonRpcRequest: request,
	}
}

// NewBaseMessageNotification wraps a notification into a BaseJsonRpcMessage.
func NewBaseMessageNotification(notification *BaseJSONRPCNotification) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:                BaseMessageTypeJSONRPCNotificationType,
		JsonRpcNotification: notification,
	}
}

// NewBaseMessageResponse wraps a response into a BaseJsonRpcMessage.
func NewBaseMessageResponse(response *BaseJSONRPCResponse) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:            BaseMessageTypeJSONRPCResponseType,
		JsonRpcResponse: response,
	}
}

// NewBaseMessageError wraps an error response into a BaseJsonRpcMessage.
func NewBaseMessageError(errorResponse *BaseJSONRPCError) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:         BaseMessageTypeJSONRPCErrorType,
		JsonRpcError: errorResponse,
	}
}

// MarshalJSON serializes the wrapped message without the union envelope.
func (m *BaseJsonRpcMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return json.Marshal(m.JsonRpcRequest)
	case BaseMessageTypeJSONRPCNotificationType:
		return json.Marshal(m.JsonRpcNotification)
	case BaseMessageTypeJSONRPCResponseType:
		return json.Marshal(m.JsonRpcResponse)
	case BaseMessageTypeJSONRPCErrorType:
		return json.Marshal(m.JsonRpcError)
	}
	return nil, errors.Errorf("unknown message type: %q", m.Type)
}

// UnmarshalMessage classifies a raw frame into one of the four message kinds.
// A frame with a method and an id is a request, a method without an id is a
// notification, an id with an error member is an error response, and an id
// with a result is a response.
func UnmarshalMessage(data []byte) (*BaseJsonRpcMessage, error) {
	var probe struct {
		Method string                 `json:"method"`
		Id     *RequestId             `json:"id"`
		Error  *BaseJSONRPCErrorInner `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(err, "failed to parse message frame")
	}

	switch {
	case probe.Method != "" && probe.Id != nil:
		var request BaseJSONRPCRequest
		if err := json.Unmarshal(data, &request); err != nil {
			return nil, errors.Wrap(err, "failed to parse request frame")
		}
		return NewBaseMessageRequest(&request), nil
	case probe.Method != "":
		var notification BaseJSONRPCNotification
		if err := json.Unmarshal(data, &notification); err != nil {
			return nil, errors.Wrap(err, "failed to parse notification frame")
		}
		return NewBaseMessageNotification(&notification), nil
	case probe.Id != nil && probe.Error != nil:
		var errorResponse BaseJSONRPCError
		if err := json.Unmarshal(data, &errorResponse); err != nil {
			return nil, errors.Wrap(err, "failed to parse error frame")
		}
		return NewBaseMessageError(&errorResponse), nil
	case probe.Id != nil:
		var response BaseJSONRPCResponse
		if err := json.Unmarshal(data, &response); err != nil {
			return nil, errors.Wrap(err, "failed to parse response frame")
		}
		return NewBaseMessageResponse(&response), nil
	}
	return nil, errors.New("message frame is neither a request, response, error nor notification")
}

// Transport is a bidirectional JSON-RPC message stream. Implementations own
// the underlying connection; handlers must be registered before Start.
type Transport interface {
	// Start begins processing messages on the transport.
	Start(ctx context.Context) error
	// Send sends a JSON-RPC message over the transport.
	Send(ctx context.Context, message *BaseJsonRpcMessage) error
	// Close closes the transport and releases its resources. Idempotent.
	Close() error

	// SetMessageHandler sets the callback for inbound messages.
	SetMessageHandler(handler func(ctx context.Context, message *BaseJsonRpcMessage))
	// SetErrorHandler sets the callback for out-of-band transport errors.
	SetErrorHandler(handler func(error))
	// SetCloseHandler sets the callback invoked when the transport closes.
	SetCloseHandler(handler func())
}
