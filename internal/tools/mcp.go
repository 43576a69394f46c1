package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/edda-voice/edda/pkg/types"
)

// MCPServerConfig describes one external MCP server whose tools are imported
// into the registry. Exactly one of Command (stdio transport) or URL
// (streamable HTTP transport) must be set.
type MCPServerConfig struct {
	// Name identifies the server in logs and errors.
	Name string `yaml:"name"`

	// Command launches a stdio server; it is split on spaces into
	// executable and arguments.
	Command string `yaml:"command"`

	// URL is the endpoint of a streamable HTTP server.
	URL string `yaml:"url"`
}

// MCPBridge connects to external Model Context Protocol servers and exposes
// their tools as regular registry [Tool] values, so the agent treats local
// and remote tools identically.
type MCPBridge struct {
	client *mcpsdk.Client

	mu       sync.Mutex
	sessions []*mcpsdk.ClientSession
}

// NewMCPBridge creates a bridge with no connections.
func NewMCPBridge() *MCPBridge {
	return &MCPBridge{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "edda", Version: "1.0.0"},
			nil,
		),
	}
}

// Connect dials the server, lists its tools, and registers each one. Tool
// names collide with already-registered tools per the registry's rules.
func (b *MCPBridge) Connect(ctx context.Context, cfg MCPServerConfig, registry *Registry) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: mcp server config must have a name")
	}

	var transport mcpsdk.Transport
	switch {
	case cfg.Command != "":
		parts := strings.Fields(cfg.Command)
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case cfg.URL != "":
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("tools: mcp server %q needs a command or url", cfg.Name)
	}

	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect mcp server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			session.Close()
			return fmt.Errorf("tools: list tools on %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	for _, mcpTool := range discovered {
		t, err := bridgeTool(session, mcpTool)
		if err != nil {
			session.Close()
			return fmt.Errorf("tools: import %q from %q: %w", mcpTool.Name, cfg.Name, err)
		}
		if err := registry.Register(t); err != nil {
			session.Close()
			return err
		}
	}

	b.mu.Lock()
	b.sessions = append(b.sessions, session)
	b.mu.Unlock()
	return nil
}

// Close closes all server sessions.
func (b *MCPBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, s := range b.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.sessions = nil
	return firstErr
}

// bridgeTool wraps one remote MCP tool as a registry Tool.
func bridgeTool(session *mcpsdk.ClientSession, t mcpsdk.Tool) (Tool, error) {
	params, err := mcpSchemaToMap(t.InputSchema)
	if err != nil {
		return Tool{}, err
	}

	name := t.Name
	return Tool{
		Definition: types.ToolDefinition{
			Name:        name,
			Description: t.Description,
			Parameters:  params,
		},
		Handler: func(ctx context.Context, args string) (Result, error) {
			var argsMap map[string]any
			if args != "" && args != "{}" {
				if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
					return InvalidInputf("invalid arguments: %v", err), nil
				}
			}

			callResult, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
				Name:      name,
				Arguments: argsMap,
			})
			if err != nil {
				return Result{}, fmt.Errorf("mcp call %q: %w", name, err)
			}

			var sb strings.Builder
			for _, c := range callResult.Content {
				if tc, ok := c.(*mcpsdk.TextContent); ok {
					sb.WriteString(tc.Text)
				}
			}
			if callResult.IsError {
				return Errorf("%s", sb.String()), nil
			}
			return Success(sb.String()), nil
		},
	}, nil
}

// mcpSchemaToMap converts the SDK's schema value to the map form carried by
// types.ToolDefinition.
func mcpSchemaToMap(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object"}, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
