package protocol

// Envelope types accepted and emitted by the orchestrator. The constants
// are grouped by the listener that first sees them; several types travel
// in both directions (ping/pong, error).

// Agent endpoint, inbound.
const (
	TypeAgentRegister      = "agent.register"
	TypeAgentListRequest   = "agent.list.request"
	TypeServiceList        = "service.list"
	TypeServiceTaskExecute = "service.task.execute"
	TypeTaskResult         = "task.result"
	TypeTaskError          = "task.error"
	TypeTaskStatus         = "task.status"
	TypeTaskNotification   = "task.notification"
	TypeAgentStatus        = "agent.status"
	TypeAgentStatusUpdate  = "agent.status.update"
	TypeAgentTaskRequest   = "agent.task.request"
	TypeServiceToolsList   = "service.tools.list"
	TypeMCPServersList     = "mcp.servers.list"
	TypeMCPToolsList       = "mcp.tools.list"
	TypeMCPToolExecute     = "mcp.tool.execute"
	TypePing               = "ping"
)

// Agent endpoint, outbound.
const (
	TypeAgentRegistered          = "agent.registered"
	TypeAgentListResponse        = "agent.list.response"
	TypeServiceListResult        = "service.list.result"
	TypeServiceTaskResult        = "service.task.result"
	TypeTaskExecute              = "task.execute"
	TypeTaskMessageResponse      = "task.messageresponse"
	TypeChildAgentAccepted       = "childagent.request.accepted"
	TypeChildAgentResponse       = "childagent.response"
	TypeServiceRequestAccepted   = "service.request.accepted"
	TypeServiceResponse          = "service.response"
	TypeServiceNotification      = "service.notification"
	TypeNotificationReceived     = "notification.received"
	TypePong                     = "pong"
	TypeError                    = "error"
	TypeAgentMCPServersList      = "agent.mcp.servers.list"
	TypeAgentMCPToolsList        = "agent.mcp.tools.list"
	TypeAgentMCPToolExecute      = "agent.mcp.tool.execute"
	TypeAgentMCPToolExecuteReply = "agent.mcp.tool.execute.result"
)

// Client endpoint, inbound.
const (
	TypeClientRegister          = "client.register"
	TypeClientList              = "client.list"
	TypeClientTaskCreate        = "client.agent.task.create.request"
	TypeClientTaskCreateAlias   = "client.task.create"
	TypeClientTaskStatusRequest = "client.agent.task.status.request"
	TypeClientAgentListRequest  = "client.agent.list.request"
	TypeClientMCPServerList     = "client.mcp.server.list.request"
	TypeMCPServerTools          = "mcp.server.tools"
	TypeClientMessage           = "client.message"
	TypeTaskMessage             = "task.message"
)

// Client endpoint, outbound.
const (
	TypeClientWelcome          = "orchestrator.client.welcome"
	TypeClientRegisterResponse = "client.register.response"
	TypeAgentList              = "agent.list"
	TypeTaskCreated            = "task.created"
	TypeServiceStarted         = "service.started"
	TypeServiceCompleted       = "service.completed"
	TypeMCPServerList          = "mcp.server.list"
	TypeMCPToolExecutionResult = "mcp.tool.execution.result"
	TypeMessageSent            = "message.sent"
	TypeSystemNotification     = "system.notification"
)

// Reply forms for queries whose request type has no catalogued
// counterpart.
const (
	TypeClientListResponse   = "client.list.response"
	TypeMCPServersListResult = "mcp.servers.list.result"
	TypeMCPToolsListResult   = "mcp.tools.list.result"
)

// Service endpoint, inbound.
const (
	TypeServiceRegister         = "service.register"
	TypeServiceStatusUpdate     = "service.status.update"
	TypeServiceTaskNotification = "service.task.notification"
	TypeServiceError            = "service.error"
)

// Service endpoint, outbound.
const (
	TypeWelcome              = "orchestrator.welcome"
	TypeServiceRegistered    = "service.registered"
	TypeServiceStatusUpdated = "service.status.updated"
)

// Version is the orchestrator protocol version advertised in welcome frames.
const Version = "1.0.0"
