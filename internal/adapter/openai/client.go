// Package openai implements the chat port against any OpenAI-compatible
// completion endpoint using the go-openai SDK.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	stotel "github.com/steward-ai/steward/internal/adapter/otel"
	"github.com/steward-ai/steward/internal/config"
	"github.com/steward-ai/steward/internal/domain/capability"
	"github.com/steward-ai/steward/internal/port/chat"
	"github.com/steward-ai/steward/internal/resilience"
)

// Client implements chat.Client. Every completion call goes through the
// circuit breaker so a failing upstream turns into fast rejections
// instead of piled-up timeouts.
type Client struct {
	api       *openai.Client
	model     string
	maxTokens int
	breaker   *resilience.Breaker
	log       *slog.Logger
}

// New creates a chat client from config. An empty BaseURL targets the
// public OpenAI API; anything speaking the same protocol works.
func New(cfg config.OpenAI, breaker *resilience.Breaker, log *slog.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{
		api:       openai.NewClientWithConfig(apiCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		breaker:   breaker,
		log:       log,
	}
}

// Send performs one completion round. An empty tool slice omits the
// tools field entirely, forcing a plain text reply.
func (c *Client) Send(ctx context.Context, messages []chat.Message, tools []capability.Descriptor) (*chat.Reply, error) {
	ctx, span := stotel.StartModelCallSpan(ctx, c.model, len(tools))
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  toWireMessages(messages),
	}
	if len(tools) > 0 {
		req.Tools = toWireTools(tools)
	}

	var resp openai.ChatCompletionResponse
	err := c.breaker.Execute(func() error {
		r, callErr := c.api.CreateChatCompletion(ctx, req)
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &chat.Reply{}, nil
	}

	msg := resp.Choices[0].Message
	reply := &chat.Reply{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := make(map[string]any)
		if uerr := json.Unmarshal([]byte(tc.Function.Arguments), &args); uerr != nil {
			// Malformed argument JSON from the model still has to reach
			// the policy layer, so carry it raw.
			c.log.Warn("malformed tool-call arguments", "tool", tc.Function.Name, "error", uerr)
			args = map[string]any{"_raw": tc.Function.Arguments}
		}
		reply.Invocations = append(reply.Invocations, chat.Invocation{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return reply, nil
}

// toWireMessages converts port messages to the SDK's shape.
func toWireMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		wm := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

// toWireTools converts capability descriptors to function definitions.
func toWireTools(tools []capability.Descriptor) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, d := range tools {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
