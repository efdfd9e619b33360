package mcp

import "encoding/json"

const (
	// ProtocolVersion is the MCP revision answered on initialize.
	ProtocolVersion = "2024-11-05"
	// ServerName is reported to MCP clients in serverInfo.
	ServerName = "immersive"
)

// Request is one JSON-RPC 2.0 message read from the client. Notifications
// carry no ID and get no reply.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError reports a protocol-level failure. Translation failures are not
// RPC errors; they come back as tool results with IsError set.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// InitializeResult advertises the translation tools to the client.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities lists what the server offers. Only tools are served; the
// empty object means the tool list never changes at runtime.
type Capabilities struct {
	Tools struct{} `json:"tools"`
}

// ToolDefinition describes one immersive_* tool and its JSON input schema.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

type ToolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolCallParams names the tool and carries its raw arguments, decoded by
// the tool's handler.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult holds the formatted text of a translation, settings,
// cache or usage answer.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
