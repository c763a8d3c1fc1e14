package protocol

// Typed content payloads for the envelopes the orchestrator parses.
// Outbound payloads built ad hoc by the router use maps; the structs
// below cover the inbound shapes and the replies peers decode.

// WelcomeContent is sent on every fresh connection.
type WelcomeContent struct {
	ConnectionID string `json:"connectionId"`
	Version      string `json:"version"`
	Message      string `json:"message,omitempty"`
}

// RegisterContent is the content of agent.register and service.register.
type RegisterContent struct {
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// RegisteredContent echoes a successful registration.
type RegisteredContent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ClientRegisterContent is the content of client.register.
type ClientRegisterContent struct {
	Name     string                 `json:"name,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ListFilter narrows directory queries. Capabilities must all be present
// on a record for it to match.
type ListFilter struct {
	Status       string   `json:"status,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// TaskCreateContent is the content of client.agent.task.create.request.
type TaskCreateContent struct {
	AgentID   string                 `json:"agentId,omitempty"`
	AgentName string                 `json:"agentName,omitempty"`
	TaskType  string                 `json:"taskType,omitempty"`
	TaskData  map[string]interface{} `json:"taskData"`
}

// TaskExecuteContent is dispatched to the agent that owns a task.
type TaskExecuteContent struct {
	TaskID   string                 `json:"taskId"`
	TaskType string                 `json:"taskType,omitempty"`
	TaskData map[string]interface{} `json:"taskData"`
	ClientID string                 `json:"clientId,omitempty"`
}

// AgentTaskRequestContent is the content of agent.task.request (delegation).
type AgentTaskRequestContent struct {
	TargetAgentName string                 `json:"targetAgentName"`
	TaskType        string                 `json:"taskType,omitempty"`
	TaskData        map[string]interface{} `json:"taskData"`
	ParentTaskID    string                 `json:"parentTaskId,omitempty"`
	Timeout         int                    `json:"timeout,omitempty"`
}

// TaskOutcomeContent covers task.result, task.error and task.status.
type TaskOutcomeContent struct {
	TaskID string                 `json:"taskId"`
	Status string                 `json:"status,omitempty"`
	Result interface{}            `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// ServiceTaskExecuteContent is the content of service.task.execute from an
// agent, and of the frame the orchestrator dispatches to the service.
type ServiceTaskExecuteContent struct {
	TaskID    string                 `json:"taskId,omitempty"`
	ServiceID string                 `json:"serviceId"`
	ToolName  string                 `json:"toolName"`
	Params    map[string]interface{} `json:"params,omitempty"`
	ClientID  string                 `json:"clientId,omitempty"`
	AgentID   string                 `json:"agentId,omitempty"`
}

// NotificationContent covers task.notification and service.task.notification.
type NotificationContent struct {
	TaskID           string                 `json:"taskId"`
	NotificationType string                 `json:"notificationType,omitempty"`
	Message          string                 `json:"message,omitempty"`
	Data             map[string]interface{} `json:"data,omitempty"`
	AgentID          string                 `json:"agentId,omitempty"`
	AgentName        string                 `json:"agentName,omitempty"`
	ServiceID        string                 `json:"serviceId,omitempty"`
	ServiceName      string                 `json:"serviceName,omitempty"`
}

// TaskMessageContent is an intermediate message routed by task id.
type TaskMessageContent struct {
	TaskID  string                 `json:"taskId"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// MCPToolExecuteContent is the content of mcp.tool.execute and its
// agent/client-prefixed forms.
type MCPToolExecuteContent struct {
	ServerID   string                 `json:"serverId"`
	ToolName   string                 `json:"toolName"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// MCPToolResultContent is the reply to an MCP tool execution.
type MCPToolResultContent struct {
	ServerID string                 `json:"serverId"`
	ToolName string                 `json:"toolName"`
	Status   string                 `json:"status"`
	Result   interface{}            `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// StatusUpdateContent is the content of agent.status.update and
// service.status.update.
type StatusUpdateContent struct {
	Status  string                 `json:"status,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PingContent is the optional content of a ping.
type PingContent struct {
	Timestamp string `json:"timestamp,omitempty"`
}

// PongContent is the content of a pong.
type PongContent struct {
	Timestamp string `json:"timestamp"`
}
