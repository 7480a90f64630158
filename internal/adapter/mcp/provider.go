// Package mcp implements the tool provider port against MCP servers.
// Discovered tools become registry capabilities whose handlers proxy
// tool calls back to the server.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"

	"github.com/steward-ai/steward/internal/config"
	"github.com/steward-ai/steward/internal/domain/capability"
)

// Provider connects to one MCP server and exposes its tools.
type Provider struct {
	name   string
	client mcpclient.MCPClient
	log    *slog.Logger
}

// Connect builds a client for the server definition and performs the
// initialize handshake.
func Connect(ctx context.Context, def config.MCPServer, log *slog.Logger) (*Provider, error) {
	client, err := createClient(def)
	if err != nil {
		return nil, fmt.Errorf("mcp client %s: %w", def.Name, err)
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    "steward",
		Version: "1.0.0",
	}
	initResult, err := client.Initialize(ctx, initReq)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp initialize %s: %w", def.Name, err)
	}

	log.Info("mcp server connected",
		"name", def.Name,
		"server", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version)

	return &Provider{name: def.Name, client: client, log: log}, nil
}

// Name implements toolprovider.Provider.
func (p *Provider) Name() string { return p.name }

// Discover lists the server's tools as capability descriptors. Each
// handler issues a tools/call against this provider's connection.
func (p *Provider) Discover(ctx context.Context) ([]capability.Descriptor, error) {
	toolsResult, err := p.client.ListTools(ctx, mcpprotocol.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp list tools %s: %w", p.name, err)
	}

	descriptors := make([]capability.Descriptor, 0, len(toolsResult.Tools))
	for i := range toolsResult.Tools {
		tool := toolsResult.Tools[i]
		descriptors = append(descriptors, capability.Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
			Group:       p.name,
			Handler:     p.callHandler(tool.Name),
		})
	}
	return descriptors, nil
}

// Close releases the server connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

func (p *Provider) callHandler(toolName string) capability.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		req := mcpprotocol.CallToolRequest{}
		req.Params.Name = toolName
		req.Params.Arguments = args

		result, err := p.client.CallTool(ctx, req)
		if err != nil {
			return "", fmt.Errorf("mcp call %s/%s: %w", p.name, toolName, err)
		}

		text := contentText(result.Content)
		if result.IsError {
			return "", fmt.Errorf("mcp call %s/%s: %s", p.name, toolName, text)
		}
		return text, nil
	}
}

// contentText flattens tool-result content to text. Non-text content is
// summarized by type since the conversation transport is text-only.
func contentText(content []mcpprotocol.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcpprotocol.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			parts = append(parts, fmt.Sprintf("[unsupported content type %T]", c))
		}
	}
	return strings.Join(parts, "\n")
}

// schemaToMap converts the tool input schema to the generic map shape
// the chat adapter serializes.
func schemaToMap(schema mcpprotocol.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return m
}

// createClient builds an mcp-go client for the given server definition.
func createClient(def config.MCPServer) (mcpclient.MCPClient, error) {
	switch def.Transport {
	case "stdio", "":
		env := envMapToSlice(def.Env)
		return mcpclient.NewStdioMCPClient(def.Command, env, def.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(def.Headers))
		}
		return mcpclient.NewSSEMCPClient(def.URL, opts...)

	case "http":
		var opts []transport.StreamableHTTPCOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(def.Headers))
		}
		return mcpclient.NewStreamableHttpClient(def.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", def.Transport)
	}
}

// envMapToSlice converts a map to the KEY=VALUE slice format expected by exec.Cmd.
func envMapToSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
