package router

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/gateway"
	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

// mcpListReplyType maps a requesting role to its server-list reply type.
func mcpListReplyType(role gateway.Role) string {
	if role == gateway.RoleClient {
		return protocol.TypeMCPServerList
	}
	return protocol.TypeMCPServersListResult
}

// mcpToolsReplyType maps a requesting role to its tool-list reply type.
func mcpToolsReplyType(role gateway.Role) string {
	if role == gateway.RoleClient {
		return protocol.TypeMCPServerTools
	}
	return protocol.TypeMCPToolsListResult
}

// mcpExecuteReplyType maps a requesting role to its tool-execution reply
// type.
func mcpExecuteReplyType(role gateway.Role) string {
	if role == gateway.RoleClient {
		return protocol.TypeMCPToolExecutionResult
	}
	return protocol.TypeAgentMCPToolExecuteReply
}

// handleMCPServersList answers with the supervisor's current server
// registry. Listing never spawns subprocesses.
func (r *Router) handleMCPServersList(role gateway.Role, connID string, msg *protocol.Message) {
	servers := r.supervisor.List()
	r.reply(role, connID, msg.ID, mcpListReplyType(role), map[string]interface{}{
		"servers": servers,
		"count":   len(servers),
	})
}

// handleMCPToolsList resolves the server, connecting it on demand, and
// answers with its advertised tools.
func (r *Router) handleMCPToolsList(ctx context.Context, role gateway.Role, connID string, msg *protocol.Message) {
	var content struct {
		ServerID string `json:"serverId"`
	}
	if err := msg.ParseContent(&content); err != nil || content.ServerID == "" {
		r.sendError(role, connID, msg.ID, apperrors.InvalidMessage("serverId is required"))
		return
	}

	tools, err := r.supervisor.ListTools(ctx, content.ServerID)
	if err != nil {
		r.logger.Warn("MCP tool listing failed",
			zap.String("server", content.ServerID),
			zap.Error(err))
		r.sendError(role, connID, msg.ID, err)
		return
	}

	r.reply(role, connID, msg.ID, mcpToolsReplyType(role), map[string]interface{}{
		"serverId": content.ServerID,
		"tools":    tools,
		"count":    len(tools),
	})
}

// handleMCPToolExecute runs one tool call on the named server and
// forwards its outcome. Failures come back as a result frame with
// status error, not a bare error frame, so callers correlating on the
// reply type always get one.
func (r *Router) handleMCPToolExecute(ctx context.Context, role gateway.Role, connID string, msg *protocol.Message) {
	var content protocol.MCPToolExecuteContent
	if err := msg.ParseContent(&content); err != nil {
		r.sendError(role, connID, msg.ID, apperrors.InvalidMessage("invalid mcp.tool.execute content"))
		return
	}
	if content.ServerID == "" || content.ToolName == "" {
		r.sendError(role, connID, msg.ID, apperrors.InvalidMessage("serverId and toolName are required"))
		return
	}

	result, err := r.supervisor.ExecuteTool(ctx, content.ServerID, content.ToolName, content.Parameters, 0)
	if err != nil {
		r.logger.Warn("MCP tool execution failed",
			zap.String("server", content.ServerID),
			zap.String("tool", content.ToolName),
			zap.Error(err))
		r.reply(role, connID, msg.ID, mcpExecuteReplyType(role), protocol.MCPToolResultContent{
			ServerID: content.ServerID,
			ToolName: content.ToolName,
			Status:   "error",
			Error:    err.Error(),
		})
		return
	}

	r.reply(role, connID, msg.ID, mcpExecuteReplyType(role), protocol.MCPToolResultContent{
		ServerID: content.ServerID,
		ToolName: content.ToolName,
		Status:   "success",
		Result:   result.Result,
		Metadata: result.Metadata,
	})
}
