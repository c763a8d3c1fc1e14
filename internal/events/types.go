// Package events provides event types and the bus provider for the
// orchestrator's internal publish/subscribe glue.
package events

// Peer lifecycle events published by the connection registries.
const (
	AgentConnected    = "agent.connected"
	AgentRegistered   = "agent.registered"
	AgentDisconnected = "agent.disconnected"

	ServiceConnected    = "service.connected"
	ServiceRegistered   = "service.registered"
	ServiceDisconnected = "service.disconnected"

	ClientConnected    = "client.connected"
	ClientRegistered   = "client.registered"
	ClientDisconnected = "client.disconnected"
)

// Task lifecycle events published by the task stores.
const (
	TaskCreated = "task.created"
	TaskUpdated = "task.updated"

	ServiceTaskCreated = "servicetask.created"
	ServiceTaskUpdated = "servicetask.updated"
)

// MCP supervisor events.
const (
	MCPServerRegistered   = "mcp.server.registered"
	MCPServerConnected    = "mcp.server.connected"
	MCPServerDisconnected = "mcp.server.disconnected"
	MCPServerErrored      = "mcp.server.errored"
)

// Source identifiers used on published events.
const (
	SourceAgentRegistry   = "agent-registry"
	SourceServiceRegistry = "service-registry"
	SourceClientRegistry  = "client-registry"
	SourceTaskStore       = "task-store"
	SourceRouter          = "router"
	SourceMCPSupervisor   = "mcp-supervisor"
)
