// Package store persists conversation history keyed by chat ID.
package store

import (
	"context"

	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/pkg/llms"
)

var logger = xlog.NewPackageLogger("github.com/nimbus-ai/nimbus", "store")

// MessageStore keeps the messages of each conversation. Messages are
// append-only within a chat; Reset discards the whole chat.
type MessageStore interface {
	Messages(ctx context.Context, chatID string) ([]llms.Message, error)
	Add(ctx context.Context, chatID string, msgs ...llms.Message) error
	Reset(ctx context.Context, chatID string) error
}

// MessageModel is the serializable form of one message. Message parts are an
// interface on the wire-facing type, so persistence goes through this flat
// model.
type MessageModel struct {
	Role         llms.Role              `json:"role"`
	Text         string                 `json:"text,omitempty"`
	ToolCalls    []llms.ToolCall        `json:"tool_calls,omitempty"`
	ToolResponse *llms.ToolCallResponse `json:"tool_response,omitempty"`
}

// ConvertMessageToModel flattens a message for persistence.
func ConvertMessageToModel(msg llms.Message) MessageModel {
	model := MessageModel{Role: msg.Role}
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			if model.Text != "" {
				model.Text += "\n"
			}
			model.Text += p.Text
		case llms.ToolCall:
			model.ToolCalls = append(model.ToolCalls, p)
		case llms.ToolCallResponse:
			resp := p
			model.ToolResponse = &resp
		}
	}
	return model
}

// ToMessage restores the message form of a persisted model.
func (m MessageModel) ToMessage() llms.Message {
	var parts []llms.ContentPart
	if m.Text != "" {
		parts = append(parts, llms.TextPart(m.Text))
	}
	for _, tc := range m.ToolCalls {
		parts = append(parts, tc)
	}
	if m.ToolResponse != nil {
		parts = append(parts, *m.ToolResponse)
	}
	return llms.Message{Role: m.Role, Parts: parts}
}
