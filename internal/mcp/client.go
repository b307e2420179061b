package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

const protocolVersion = "2024-11-05"

// Transport is the interface for MCP server communication.
type Transport interface {
	Start(ctx context.Context) error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Close()
}

// ClientInfo identifies this process during the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerTool is one entry of a tools/list response.
type ServerTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListTools starts the transport, performs the initialize handshake and
// returns every tool the server advertises, following pagination cursors.
// The transport is closed before returning.
func ListTools(ctx context.Context, transport Transport, info ClientInfo) ([]ServerTool, error) {
	if err := transport.Start(ctx); err != nil {
		return nil, fmt.Errorf("start MCP server: %w", err)
	}
	defer transport.Close()

	_, err := transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      info,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize MCP server: %w", err)
	}
	if err := transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, fmt.Errorf("notify MCP server: %w", err)
	}

	var tools []ServerTool
	cursor := ""
	seen := make(map[string]struct{})
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		result, err := transport.Call(ctx, "tools/list", params)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		var page struct {
			Tools      []ServerTool `json:"tools"`
			NextCursor string       `json:"nextCursor"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			return nil, fmt.Errorf("parse tools: %w", err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		if _, ok := seen[page.NextCursor]; ok {
			return tools, nil
		}
		seen[page.NextCursor] = struct{}{}
		cursor = page.NextCursor
	}
}

// ToolNames returns the names of tools.
func ToolNames(tools []ServerTool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// JSON-RPC types for MCP protocol

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

func (r jsonRPCResponse) result() (json.RawMessage, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	return r.Result, nil
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

var requestIDCounter atomic.Int64

func nextRequestID() int64 {
	return requestIDCounter.Add(1)
}
