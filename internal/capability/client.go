package capability

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// session is the transport-agnostic operation set one connected server
// supports. The indirection exists so the manager's state machine can be
// driven in tests without spawning subprocesses.
type session interface {
	Info() ServerInfo
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	Close() error
}

// dialer opens a session for one server config.
type dialer func(ctx context.Context, cfg ServerConfig) (session, error)

// dialMCP is the production dialer.
func dialMCP(ctx context.Context, cfg ServerConfig) (session, error) {
	var cli *client.Client
	var err error

	switch cfg.Transport {
	case "", TransportStdio:
		cli, err = client.NewStdioMCPClient(cfg.Command, stdioEnv(cfg.Env), cfg.Args...)
	case TransportSSE:
		cli, err = client.NewSSEMCPClient(cfg.URL)
	case TransportStreamableHTTP:
		cli, err = client.NewStreamableHttpClient(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported transport %q (want stdio, sse, or streamable-http)", cfg.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	if err := cli.Start(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("start client: %w", err)
	}
	initResult, err := cli.Initialize(ctx, mcp.InitializeRequest{})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	return &mcpSession{cli: cli, info: ServerInfo{
		Name:    initResult.ServerInfo.Name,
		Version: initResult.ServerInfo.Version,
	}}, nil
}

func stdioEnv(env map[string]string) []string {
	out := os.Environ()
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// mcpSession adapts the mcp-go client to the session surface.
type mcpSession struct {
	cli  *client.Client
	info ServerInfo
}

func (s *mcpSession) Info() ServerInfo { return s.info }

func (s *mcpSession) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := s.cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (s *mcpSession) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	result, err := s.cli.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

func (s *mcpSession) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	result, err := s.cli.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, err
	}
	return result.Resources, nil
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args
	return s.cli.CallTool(ctx, request)
}

func (s *mcpSession) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	request := mcp.GetPromptRequest{}
	request.Params.Name = name
	request.Params.Arguments = args
	return s.cli.GetPrompt(ctx, request)
}

func (s *mcpSession) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	request := mcp.ReadResourceRequest{}
	request.Params.URI = uri
	return s.cli.ReadResource(ctx, request)
}

func (s *mcpSession) Close() error { return s.cli.Close() }

// flattenContent renders a remote tool result's content items as one
// string. Non-text items become placeholders so the model still learns
// they exist.
func flattenContent(items []mcp.Content) string {
	var sb strings.Builder
	for _, item := range items {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		switch c := item.(type) {
		case mcp.TextContent:
			sb.WriteString(c.Text)
		case mcp.ImageContent:
			sb.WriteString(fmt.Sprintf("[image: %s]", c.MIMEType))
		case mcp.EmbeddedResource:
			sb.WriteString("[embedded resource]")
		default:
			sb.WriteString("[non-text content]")
		}
	}
	return sb.String()
}
