package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/registry"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/taskstore"
)

func registerTools(s *server.MCPServer, deps Deps, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List registered agents. Use this first to get agent names for create_task."),
			mcp.WithString("status",
				mcp.Description("Filter by status: online or offline (optional)"),
			),
		),
		listPeersHandler(deps.Agents, log),
	)

	s.AddTool(
		mcp.NewTool("list_services",
			mcp.WithDescription("List registered services"),
			mcp.WithString("status",
				mcp.Description("Filter by status: online or offline (optional)"),
			),
		),
		listPeersHandler(deps.Services, log),
	)

	s.AddTool(
		mcp.NewTool("list_mcp_servers",
			mcp.WithDescription("List MCP servers managed by the orchestrator"),
		),
		listMCPServersHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a task and dispatch it to an agent. Returns the task record; poll get_task for the outcome."),
			mcp.WithString("agent",
				mcp.Required(),
				mcp.Description("Agent id or name to run the task"),
			),
			mcp.WithString("task_type",
				mcp.Description("Task type label (optional)"),
			),
			mcp.WithString("task_data",
				mcp.Description("Task payload as a JSON object string (optional)"),
			),
		),
		createTaskHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Fetch one task with its status and update history"),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID to fetch"),
			),
		),
		getTaskHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks, optionally filtered by status or agent"),
			mcp.WithString("status",
				mcp.Description("Filter by status: pending, in_progress, completed, failed (optional)"),
			),
			mcp.WithString("agent_id",
				mcp.Description("Filter by owning agent id (optional)"),
			),
		),
		listTasksHandler(deps, log),
	)

	log.Info("registered MCP gateway tools", zap.Int("count", 6))
}

func toolResultJSON(v interface{}) (*mcp.CallToolResult, error) {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(formatted)), nil
}

func listPeersHandler(reg *registry.PeerRegistry, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		peers := reg.List(registry.Filter{Status: req.GetString("status", "")})
		return toolResultJSON(peers)
	}
}

func listMCPServersHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolResultJSON(deps.Supervisor.List())
	}
}

func createTaskHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agent, err := req.RequireString("agent")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var taskData map[string]interface{}
		if raw := req.GetString("task_data", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &taskData); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("task_data is not a JSON object: %v", err)), nil
			}
		}

		task, err := deps.Router.CreateTask(agent, req.GetString("task_type", ""), taskData)
		if err != nil {
			log.Warn("gateway task creation failed",
				zap.String("agent", agent),
				zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create task: %v", err)), nil
		}

		return toolResultJSON(task)
	}
}

func getTaskHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		task, err := deps.Tasks.Get(taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch task: %v", err)), nil
		}
		return toolResultJSON(task)
	}
}

func listTasksHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks := deps.Tasks.List(taskstore.Filter{
			Status:  req.GetString("status", ""),
			AgentID: req.GetString("agent_id", ""),
		})
		return toolResultJSON(tasks)
	}
}
