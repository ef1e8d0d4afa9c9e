package tp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// ClientInfoName/Version identify this host during the initialize handshake.
const (
	ClientInfoName    = "conduit"
	ClientInfoVersion = "1.0.0"
)

// Client is a handshake-and-call session with a single tool server.
type Client struct {
	config    *ServerConfig
	transport *StdioTransport
	logger    *slog.Logger

	mu         sync.RWMutex
	tools      []*Tool
	serverInfo ServerInfo
}

// NewClient creates a client for the given server configuration. The
// transport is not yet connected.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    cfg,
		transport: NewStdioTransport(cfg),
		logger:    logger.With("tool_server", cfg.ID),
	}
}

// Connect starts the subprocess (with resolvedArgs already substituted),
// performs the initialize handshake, and discovers its tool catalog.
func (c *Client) Connect(ctx context.Context, resolvedArgs []string) error {
	if err := c.transport.Connect(ctx, resolvedArgs); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    ClientInfoName,
			"version": ClientInfoVersion,
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.mu.Unlock()

	c.logger.Info("initialized tool server",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	if err := c.RefreshTools(ctx); err != nil {
		c.transport.Close()
		return fmt.Errorf("discover tools: %w", err)
	}

	return nil
}

// Close tears down the subprocess.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Connected reports whether the subprocess is still reachable.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// Config returns the server's static configuration.
func (c *Client) Config() *ServerConfig {
	return c.config
}

// ServerInfo returns the peer's self-reported identity.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// RefreshTools re-issues tools/list and replaces the cached catalog.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	c.logger.Debug("refreshed tool catalog", "count", len(resp.Tools))
	return nil
}

// Tools returns a snapshot of the cached tool catalog.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes a tool by its unqualified name against this server.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	params := CallToolParams{Name: name, Arguments: arguments}
	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}
