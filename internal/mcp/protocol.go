// Package mcp supervises out-of-process MCP tool servers. Each server is
// a subprocess spoken to over strict line-delimited JSON on stdio: one
// JSON document per newline in each direction, correlated by id.
package mcp

import (
	"encoding/json"
	"time"
)

// Stdio request types.
const (
	requestInitialize = "initialize"
	requestListTools  = "list_tools"
	requestToolCall   = "tool_call"
	requestShutdown   = "shutdown"
)

// ProtocolVersion is sent in the initialize handshake.
const ProtocolVersion = "1.0"

// Server status values.
const (
	StatusRegistered = "registered"
	StatusOnline     = "online"
	StatusError      = "error"
)

// Launch conventions selected by server type when no explicit command is
// configured.
const (
	ServerTypeNode   = "node"
	ServerTypePython = "python"
)

// Default deadlines for the stdio dialog.
const (
	initializeTimeout = 10 * time.Second
	toolCallTimeout   = 30 * time.Second
	shutdownTimeout   = 2 * time.Second
)

// request is one frame written to the subprocess stdin.
type request struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Version string    `json:"version,omitempty"`
	Tool    *toolCall `json:"tool,omitempty"`
}

type toolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// response is one frame read from the subprocess stdout.
type response struct {
	ID       string                 `json:"id"`
	Result   json.RawMessage        `json:"result,omitempty"`
	Tools    []Tool                 `json:"tools,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Tool describes one tool exposed by an MCP server.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolResult is the outcome of an executed tool call.
type ToolResult struct {
	Result   json.RawMessage        `json:"result,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Server is the registry record for one configured MCP server.
type Server struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Type         string                 `json:"type,omitempty"`
	Path         string                 `json:"path,omitempty"`
	Command      string                 `json:"command,omitempty"`
	Args         []string               `json:"args,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Status       string                 `json:"status"`
	ConnectionID string                 `json:"connectionId,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	RegisteredAt time.Time              `json:"registeredAt"`
	UpdatedAt    time.Time              `json:"updatedAt,omitempty"`
}

func cloneServer(s *Server) *Server {
	cp := *s
	cp.Args = append([]string(nil), s.Args...)
	cp.Capabilities = append([]string(nil), s.Capabilities...)
	return &cp
}
