// Package assistants implements the chat orchestrator: it relays a
// conversation to a language model, dispatches the tool calls the model
// requests, feeds the results back, and repeats until the model produces a
// plain answer or the round limit is hit.
package assistants

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/nimbus-ai/nimbus/pkg/llms"
	"github.com/nimbus-ai/nimbus/store"
	"github.com/nimbus-ai/nimbus/tools"
)

var logger = xlog.NewPackageLogger("github.com/nimbus-ai/nimbus", "assistants")

// DefaultMaxRounds is the default bound on model round-trips per chat turn.
const DefaultMaxRounds = 10

// ErrChainLimitExceeded is returned when the model keeps requesting tools
// past the configured round limit.
var ErrChainLimitExceeded = errors.New("tool chain limit exceeded")

// Assistant drives the tool-chaining loop over a single LLM and a tool
// registry. Conversations are keyed by chat ID and append-only.
type Assistant struct {
	llm      llms.Model
	registry *tools.Registry
	cfg      *Config
	name     string
}

// New creates an Assistant over the given model and tool registry.
func New(llm llms.Model, registry *tools.Registry, options ...Option) *Assistant {
	a := &Assistant{
		llm:      llm,
		registry: registry,
		cfg:      NewConfig(options...),
		name:     "Nimbus Assistant",
	}
	if a.cfg.Store == nil {
		a.cfg.Store = store.NewMemoryStore()
	}
	return a
}

// WithName sets the name of the Assistant, used in callbacks and logs.
func (a *Assistant) WithName(name string) *Assistant {
	a.name = name
	return a
}

// Name returns the name of the Assistant.
func (a *Assistant) Name() string {
	return a.name
}

// NewChatID allocates an identifier for a fresh conversation.
func (a *Assistant) NewChatID() string {
	return uuid.NewString()
}

// History returns the stored conversation for the given chat ID.
func (a *Assistant) History(ctx context.Context, chatID string) ([]llms.Message, error) {
	return a.cfg.Store.Messages(ctx, chatID)
}

// Chat runs one user turn: the input is appended to the conversation, the
// model is called, requested tools are dispatched and their results fed back,
// until the model answers in plain text. The final answer is returned and the
// full turn, tool traffic included, is appended to the conversation.
func (a *Assistant) Chat(ctx context.Context, chatID, input string, options ...Option) (string, error) {
	cfg := a.cfg.Apply(options...)

	callback := cfg.CallbackHandler
	if callback != nil {
		callback.OnAssistantStart(ctx, a, input)
	}

	result, resp, err := a.run(ctx, cfg, chatID, input)
	if err != nil {
		if callback != nil {
			callback.OnAssistantError(ctx, a, input, err)
		}
		return "", err
	}
	if callback != nil {
		callback.OnAssistantEnd(ctx, a, input, resp)
	}
	return result, nil
}

func (a *Assistant) run(ctx context.Context, cfg *Config, chatID, input string) (string, *llms.ContentResponse, error) {
	messageHistory := make([]llms.Message, 0, 8)
	if cfg.SystemPrompt != "" {
		messageHistory = append(messageHistory, llms.MessageFromTextParts(llms.RoleSystem, cfg.SystemPrompt))
	}

	prev, err := cfg.Store.Messages(ctx, chatID)
	if err != nil {
		return "", nil, errors.WithMessage(err, "failed to load conversation")
	}
	messageHistory = append(messageHistory, prev...)

	userMessage := llms.MessageFromTextParts(llms.RoleHuman, input)
	messageHistory = append(messageHistory, userMessage)
	turnMessages := []llms.Message{userMessage}

	var extra []llms.CallOption
	if toolDefs := a.registry.LLMToolDefs(); len(toolDefs) > 0 {
		extra = append(extra, llms.WithTools(toolDefs))
	}
	callOpts := cfg.GetCallOptions(extra...)

	var resp *llms.ContentResponse
	rounds := 0
	for {
		if rounds >= cfg.MaxRounds {
			return "", nil, errors.WithMessagef(ErrChainLimitExceeded, "assistant %s: %d rounds", a.name, rounds)
		}
		rounds++

		resp, err = a.llm.GenerateContent(ctx, messageHistory, callOpts...)
		if err != nil {
			return "", nil, errors.Wrapf(err, "failed to generate content from LLM")
		}
		if len(resp.Choices) == 0 {
			return "", nil, errors.Newf("assistant %s: LLM returned response with no choices", a.name)
		}

		var executed int
		var toolMessages []llms.Message
		executed, toolMessages, err = a.executeToolCalls(ctx, cfg, resp)
		if err != nil {
			return "", nil, err
		}
		if executed == 0 {
			break
		}
		messageHistory = append(messageHistory, toolMessages...)
		turnMessages = append(turnMessages, toolMessages...)
	}

	choices := resp.Choices
	result := choices[0].Content
	if len(choices) > 1 {
		var combined strings.Builder
		for i, choice := range choices {
			if i > 0 {
				combined.WriteString("\n\n")
			}
			combined.WriteString(choice.Content)
		}
		result = combined.String()
	}

	turnMessages = append(turnMessages, llms.MessageFromTextParts(llms.RoleAI, result))

	if err := cfg.Store.Add(ctx, chatID, turnMessages...); err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"assistant", a.name,
			"chat_id", chatID,
			"status", "failed_to_store_history",
			"err", err.Error(),
		)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"assistant", a.name,
		"chat_id", chatID,
		"rounds", rounds,
		"result_length", len(result),
	)
	return result, resp, nil
}

// executeToolCalls dispatches every tool call in the response concurrently
// and returns the assistant tool-call messages followed by one tool response
// per call, in the order the model requested them.
func (a *Assistant) executeToolCalls(ctx context.Context, cfg *Config, resp *llms.ContentResponse) (int, []llms.Message, error) {
	type toolCallResult struct {
		toolCall llms.ToolCall
		response string
		err      error
		index    int
	}

	var messages []llms.Message
	var toolCalls []llms.ToolCall

	for _, choice := range resp.Choices {
		var choiceToolCalls []llms.ToolCall
		for i, toolCall := range choice.ToolCalls {
			if toolCall.ID == "" {
				toolCall.ID = fmt.Sprintf("%s_%d", toolCall.FunctionCall.Name, i)
			}
			if toolCall.Type == "" {
				toolCall.Type = "function"
			}
			choiceToolCalls = append(choiceToolCalls, toolCall)

			logger.ContextKV(ctx, xlog.DEBUG,
				"assistant", a.name,
				"status", "tool_call_found",
				"tool_call_id", toolCall.ID,
				"tool_call_name", toolCall.FunctionCall.Name,
			)
		}
		if len(choiceToolCalls) == 0 {
			continue
		}
		toolCalls = append(toolCalls, choiceToolCalls...)
		messages = append(messages, llms.MessageFromToolCalls(llms.RoleAI, choiceToolCalls...))
	}

	if len(toolCalls) == 0 {
		return 0, nil, nil
	}

	resultChan := make(chan toolCallResult, len(toolCalls))

	var wg sync.WaitGroup
	wg.Add(len(toolCalls))
	for i, toolCall := range toolCalls {
		go func(index int, tc llms.ToolCall) {
			defer wg.Done()
			toolName := tc.FunctionCall.Name
			toolArgs := tc.FunctionCall.Arguments

			tool, err := a.registry.Resolve(toolName)
			if err != nil {
				if cfg.CallbackHandler != nil {
					cfg.CallbackHandler.OnToolNotFound(ctx, toolName)
				}
				availableTools := strings.Join(a.registry.ToolNames(), ", ")
				logger.ContextKV(ctx, xlog.WARNING,
					"assistant", a.name,
					"status", "tool_not_found",
					"tool_name", toolName,
					"available_tools", availableTools,
				)
				resultChan <- toolCallResult{
					toolCall: tc,
					response: fmt.Sprintf("Tool `%s` not found. Please check the tool name and try again with exact match. Available tools: %s", toolName, availableTools),
					index:    index,
				}
				return
			}

			if cfg.CallbackHandler != nil {
				cfg.CallbackHandler.OnToolStart(ctx, tool, toolArgs)
			}

			res, err := tool.Call(ctx, toolArgs)
			if err != nil {
				if cfg.CallbackHandler != nil {
					cfg.CallbackHandler.OnToolError(ctx, tool, toolArgs, err)
				}
				resultChan <- toolCallResult{
					toolCall: tc,
					err:      errors.WithMessagef(err, "failed to call tool %s", toolName),
					index:    index,
				}
				return
			}

			if cfg.CallbackHandler != nil {
				cfg.CallbackHandler.OnToolEnd(ctx, tool, toolArgs, res)
			}
			resultChan <- toolCallResult{
				toolCall: tc,
				response: res,
				index:    index,
			}
		}(i, toolCall)
	}

	wg.Wait()
	close(resultChan)

	results := make([]toolCallResult, len(toolCalls))
	for result := range resultChan {
		results[result.index] = result
	}

	// Responses follow the request order so the model can correlate them.
	for _, result := range results {
		var content string
		if result.err != nil {
			content = fmt.Sprintf("Tool call failed: %s", result.err.Error())
			logger.ContextKV(ctx, xlog.WARNING,
				"assistant", a.name,
				"status", "tool_call_failed",
				"tool", result.toolCall.FunctionCall.Name,
				"err", result.err.Error(),
			)
		} else {
			content = result.response
		}

		messages = append(messages, llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
			ToolCallID: result.toolCall.ID,
			Name:       result.toolCall.FunctionCall.Name,
			Content:    content,
		}))
	}

	return len(toolCalls), messages, nil
}
