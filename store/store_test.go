package store_test

import (
	"context"
	"testing"

	"github.com/nimbus-ai/nimbus/pkg/llms"
	"github.com/nimbus-ai/nimbus/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	msgs, err := s.Messages(ctx, "chat-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	err = s.Add(ctx, "chat-1",
		llms.MessageFromTextParts(llms.RoleHuman, "hello"),
		llms.MessageFromTextParts(llms.RoleAI, "hi"),
	)
	require.NoError(t, err)
	err = s.Add(ctx, "chat-1", llms.MessageFromTextParts(llms.RoleHuman, "again"))
	require.NoError(t, err)

	msgs, err = s.Messages(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].GetContent())
	assert.Equal(t, "hi", msgs[1].GetContent())
	assert.Equal(t, "again", msgs[2].GetContent())

	// Chats do not share history.
	other, err := s.Messages(ctx, "chat-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	// Mutating the returned slice must not corrupt the stored history.
	msgs[0] = llms.MessageFromTextParts(llms.RoleHuman, "tampered")
	fresh, err := s.Messages(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", fresh[0].GetContent())

	require.NoError(t, s.Reset(ctx, "chat-1"))
	msgs, err = s.Messages(ctx, "chat-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessageModelRoundTrip(t *testing.T) {
	tcases := []struct {
		name string
		msg  llms.Message
	}{
		{
			name: "text",
			msg:  llms.MessageFromTextParts(llms.RoleHuman, "what's the weather?"),
		},
		{
			name: "tool_calls",
			msg: llms.MessageFromToolCalls(llms.RoleAI,
				llms.ToolCall{
					ID:   "call_1",
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      "get_forecast",
						Arguments: `{"latitude":32.7156,"longitude":-117.161}`,
					},
				},
			),
		},
		{
			name: "tool_response",
			msg: llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
				ToolCallID: "call_1",
				Name:       "get_forecast",
				Content:    "Tonight: clear",
			}),
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			model := store.ConvertMessageToModel(tc.msg)
			restored := model.ToMessage()
			assert.Equal(t, tc.msg.Role, restored.Role)
			assert.Equal(t, tc.msg.GetContent(), restored.GetContent())
			assert.Equal(t, tc.msg.Parts, restored.Parts)
		})
	}
}

func TestMessageModelMultipleTextParts(t *testing.T) {
	msg := llms.MessageFromTextParts(llms.RoleAI, "first", "second")
	model := store.ConvertMessageToModel(msg)
	assert.Equal(t, "first\nsecond", model.Text)

	restored := model.ToMessage()
	assert.Equal(t, "first\nsecond", restored.GetContent())
}
