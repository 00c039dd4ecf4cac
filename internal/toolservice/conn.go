package toolservice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/version"
)

// Session is one live connection to a tool service.
type Session interface {
	ListTools(ctx context.Context) ([]domain.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*Result, error)
	Close() error
}

// Dialer opens new Sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// TransportFunc creates a fresh MCP transport for each connection attempt.
type TransportFunc func(ctx context.Context) (mcp.Transport, error)

// MCPDialer dials tool services with the MCP client.
type MCPDialer struct {
	client    *mcp.Client
	transport TransportFunc
}

// NewMCPDialer returns a Dialer that connects over the transports produced
// by fn.
func NewMCPDialer(fn TransportFunc) *MCPDialer {
	return &MCPDialer{
		client:    mcp.NewClient(&mcp.Implementation{Name: version.Name, Version: version.Version}, nil),
		transport: fn,
	}
}

// NewDialer builds a Dialer from a tool service config entry.
func NewDialer(cfg config.ToolServiceConfig) (*MCPDialer, error) {
	switch cfg.Transport {
	case "sse", "":
		return NewMCPDialer(func(context.Context) (mcp.Transport, error) {
			return &mcp.SSEClientTransport{Endpoint: cfg.URL}, nil
		}), nil
	case "streamable":
		return NewMCPDialer(func(context.Context) (mcp.Transport, error) {
			return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil
		}), nil
	case "stdio":
		return NewMCPDialer(func(context.Context) (mcp.Transport, error) {
			cmd := exec.Command(cfg.Command, cfg.Args...)
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
			return &mcp.CommandTransport{Command: cmd}, nil
		}), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q for tool service %s", cfg.Transport, cfg.Name)
	}
}

// Dial connects and completes the MCP handshake.
func (d *MCPDialer) Dial(ctx context.Context) (Session, error) {
	t, err := d.transport(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := d.client.Connect(ctx, t, nil)
	if err != nil {
		return nil, err
	}
	return &mcpSession{cs: cs}, nil
}

type mcpSession struct {
	cs *mcp.ClientSession
}

func (s *mcpSession) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	var out []domain.ToolDescriptor
	params := &mcp.ListToolsParams{}
	for {
		res, err := s.cs.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			out = append(out, domain.ToolDescriptor{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaMap(t.InputSchema),
			})
		}
		if res.NextCursor == "" {
			return out, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (*Result, error) {
	res, err := s.cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	return resultFromMCP(res), nil
}

func (s *mcpSession) Close() error {
	return s.cs.Close()
}

// resultFromMCP resolves the wire content union into Result items.
func resultFromMCP(res *mcp.CallToolResult) *Result {
	out := &Result{IsError: res.IsError}
	for _, c := range res.Content {
		switch c := c.(type) {
		case *mcp.TextContent:
			out.Items = append(out.Items, Content{Kind: ContentText, Text: c.Text})
		case *mcp.ImageContent:
			out.Items = append(out.Items, Content{Kind: ContentOther, MIMEType: c.MIMEType})
		case *mcp.AudioContent:
			out.Items = append(out.Items, Content{Kind: ContentOther, MIMEType: c.MIMEType})
		case *mcp.EmbeddedResource:
			if c.Resource != nil && c.Resource.Text != "" {
				out.Items = append(out.Items, Content{Kind: ContentText, Text: c.Resource.Text})
				continue
			}
			out.Items = append(out.Items, Content{Kind: ContentOther, MIMEType: resourceMIME(c)})
		default:
			out.Items = append(out.Items, Content{Kind: ContentOther})
		}
	}
	if res.StructuredContent != nil {
		out.Items = append(out.Items, Content{Kind: ContentStructured, Data: res.StructuredContent})
	}
	return out
}

func resourceMIME(c *mcp.EmbeddedResource) string {
	if c.Resource == nil {
		return ""
	}
	return c.Resource.MIMEType
}

// schemaMap normalizes a tool input schema to a plain JSON object.
func schemaMap(v any) map[string]any {
	switch s := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return nil
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil
		}
		return m
	}
}
