// Package chat defines the port for the language-model chat client.
package chat

import (
	"context"

	"github.com/steward-ai/steward/internal/domain/capability"
)

// Message roles, mirroring the OpenAI wire protocol.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn sent to or received from the model.
type Message struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCallID string       `json:"tool_call_id,omitempty"` // set on tool-result messages
	ToolCalls  []Invocation `json:"tool_calls,omitempty"`   // set on assistant messages that invoke capabilities
}

// Invocation is one capability call requested by the model.
type Invocation struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Reply is the model's answer to one Send.
type Reply struct {
	Text        string       `json:"text"`
	Invocations []Invocation `json:"invocations,omitempty"`
}

// Client is the port for model invocation. Passing an empty tool list is
// the "no capabilities offered" mode used to force a final text reply.
type Client interface {
	Send(ctx context.Context, messages []Message, tools []capability.Descriptor) (*Reply, error)
}

// SystemMessage is a convenience constructor.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage is a convenience constructor.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolResult builds the message feeding one invocation's result back.
func ToolResult(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content}
}
