package router

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/gateway"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/metrics"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/registry"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/taskstore"
	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

// handleClientTaskCreate creates a task for an agent on behalf of a
// client, acknowledges immediately, then dispatches task.execute.
func (r *Router) handleClientTaskCreate(ctx context.Context, connID string, msg *protocol.Message) {
	client, ok := r.clients.GetByConnection(connID)
	if !ok {
		r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.UnknownIdentity("connection is not registered"))
		return
	}
	r.clients.Touch(client.ID)

	var content protocol.TaskCreateContent
	if err := msg.ParseContent(&content); err != nil {
		r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.InvalidMessage("invalid task content"))
		return
	}

	target := content.AgentID
	if target == "" {
		target = content.AgentName
	}
	if target == "" {
		r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.InvalidMessage("agentId or agentName is required"))
		return
	}

	agent, err := r.resolveAgent(target)
	if err != nil {
		r.sendError(gateway.RoleClient, connID, msg.ID, err)
		return
	}

	task, err := r.tasks.Create(&taskstore.Task{
		Type:     content.TaskType,
		AgentID:  agent.ID,
		ClientID: client.ID,
		TaskData: content.TaskData,
	})
	if err != nil {
		r.sendError(gateway.RoleClient, connID, msg.ID, err)
		return
	}
	metrics.TasksCreated.WithLabelValues("task").Inc()

	r.reply(gateway.RoleClient, connID, msg.ID, protocol.TypeTaskCreated, map[string]interface{}{
		"taskId":  task.ID,
		"agentId": agent.ID,
		"status":  task.Status,
	})

	r.dispatchTask(task, agent, client.ID)
}

// handleAgentTaskRequest creates a child task for another agent on
// behalf of the requesting agent.
func (r *Router) handleAgentTaskRequest(ctx context.Context, connID string, msg *protocol.Message) {
	requester, ok := r.agents.GetByConnection(connID)
	if !ok {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.UnknownIdentity("connection is not registered"))
		return
	}

	var content protocol.AgentTaskRequestContent
	if err := msg.ParseContent(&content); err != nil || content.TargetAgentName == "" {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.InvalidMessage("targetAgentName is required"))
		return
	}

	target, err := r.resolveAgent(content.TargetAgentName)
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}

	task, err := r.tasks.Create(&taskstore.Task{
		Type:              content.TaskType,
		AgentID:           target.ID,
		ParentTaskID:      content.ParentTaskID,
		RequestingAgentID: requester.ID,
		TaskData:          content.TaskData,
	})
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}
	metrics.TasksCreated.WithLabelValues("task").Inc()

	r.reply(gateway.RoleAgent, connID, msg.ID, protocol.TypeChildAgentAccepted, map[string]interface{}{
		"childTaskId": task.ID,
		"agentId":     target.ID,
		"agentName":   target.Name,
	})

	r.dispatchTask(task, target, "")
}

// dispatchTask emits task.execute to the owning agent. A missing agent
// connection or failed write fails the task and informs the originator.
// A successful dispatch moves the task to in_progress (informational).
func (r *Router) dispatchTask(task *taskstore.Task, agent *registry.Peer, clientID string) {
	execute, err := protocol.New(protocol.TypeTaskExecute, protocol.TaskExecuteContent{
		TaskID:   task.ID,
		TaskType: task.Type,
		TaskData: task.TaskData,
		ClientID: clientID,
	})
	if err != nil {
		return
	}

	dispatchErr := apperrors.UnavailablePeer("Agent connection not found")
	if agent.ConnectionID != "" {
		if sendErr := r.send(gateway.RoleAgent, agent.ConnectionID, execute); sendErr == nil {
			if _, err := r.tasks.UpdateStatus(task.ID, taskstore.StatusInProgress, taskstore.Details{}); err == nil {
				metrics.TaskTransitions.WithLabelValues("task", taskstore.StatusInProgress).Inc()
			}
			return
		}
	}

	r.failTask(task.ID, dispatchErr.Message)
}

// failTask transitions a task to failed and notifies its originators.
func (r *Router) failTask(taskID, reason string) {
	task, err := r.tasks.UpdateStatus(taskID, taskstore.StatusFailed, taskstore.Details{Error: reason})
	if err != nil {
		r.logger.Debug("Could not fail task",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	metrics.TaskTransitions.WithLabelValues("task", taskstore.StatusFailed).Inc()

	r.notifyClient(task.ClientID, protocol.TypeTaskError, map[string]interface{}{
		"taskId": task.ID,
		"error":  reason,
		"status": taskstore.StatusFailed,
	}, "")

	if task.RequestingAgentID != "" {
		r.notifyAgent(task.RequestingAgentID, protocol.TypeChildAgentResponse, map[string]interface{}{
			"childTaskId": task.ID,
			"status":      taskstore.StatusFailed,
			"error":       reason,
		})
	}
}

// handleTaskResult completes a task and forwards the result to the
// client and, for delegated tasks, the requesting agent.
func (r *Router) handleTaskResult(connID string, msg *protocol.Message) {
	var content protocol.TaskOutcomeContent
	if err := msg.ParseContent(&content); err != nil || content.TaskID == "" {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.InvalidMessage("taskId is required"))
		return
	}

	task, err := r.tasks.UpdateStatus(content.TaskID, taskstore.StatusCompleted, taskstore.Details{Result: content.Result})
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}
	metrics.TaskTransitions.WithLabelValues("task", taskstore.StatusCompleted).Inc()

	// Status first, then the standalone result, in that order.
	r.notifyClient(task.ClientID, protocol.TypeTaskStatus, map[string]interface{}{
		"taskId": task.ID,
		"status": taskstore.StatusCompleted,
	}, "")
	r.notifyClient(task.ClientID, protocol.TypeTaskResult, map[string]interface{}{
		"taskId": task.ID,
		"result": content.Result,
		"status": taskstore.StatusCompleted,
	}, "")

	if task.RequestingAgentID != "" {
		// Requesting agent may have disconnected; the terminal record stays.
		r.notifyAgent(task.RequestingAgentID, protocol.TypeChildAgentResponse, map[string]interface{}{
			"childTaskId": task.ID,
			"status":      taskstore.StatusCompleted,
			"result":      content.Result,
		})
	}
}

// handleTaskError fails a task and forwards the error analogously to
// handleTaskResult.
func (r *Router) handleTaskError(connID string, msg *protocol.Message) {
	var content protocol.TaskOutcomeContent
	if err := msg.ParseContent(&content); err != nil || content.TaskID == "" {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.InvalidMessage("taskId is required"))
		return
	}

	task, err := r.tasks.UpdateStatus(content.TaskID, taskstore.StatusFailed, taskstore.Details{Error: content.Error})
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}
	metrics.TaskTransitions.WithLabelValues("task", taskstore.StatusFailed).Inc()

	r.notifyClient(task.ClientID, protocol.TypeTaskError, map[string]interface{}{
		"taskId": task.ID,
		"error":  content.Error,
		"status": taskstore.StatusFailed,
	}, "")

	if task.RequestingAgentID != "" {
		r.notifyAgent(task.RequestingAgentID, protocol.TypeChildAgentResponse, map[string]interface{}{
			"childTaskId": task.ID,
			"status":      taskstore.StatusFailed,
			"error":       content.Error,
		})
	}
}

// handleTaskStatus records an agent-reported transition and forwards it
// to the task's client. Illegal transitions are reported to the agent;
// the forward still happens for informational statuses.
func (r *Router) handleTaskStatus(connID string, msg *protocol.Message) {
	var content protocol.TaskOutcomeContent
	if err := msg.ParseContent(&content); err != nil || content.TaskID == "" {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.InvalidMessage("taskId is required"))
		return
	}

	task, err := r.tasks.Get(content.TaskID)
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}

	if content.Status != "" && content.Status != task.Status {
		updated, err := r.tasks.UpdateStatus(content.TaskID, content.Status, taskstore.Details{Data: content.Data})
		if err != nil {
			r.sendError(gateway.RoleAgent, connID, msg.ID, err)
			return
		}
		task = updated
		metrics.TaskTransitions.WithLabelValues("task", content.Status).Inc()
	}

	r.notifyClient(task.ClientID, protocol.TypeTaskStatus, map[string]interface{}{
		"taskId": task.ID,
		"status": task.Status,
		"data":   content.Data,
	}, "")
}

// handleTaskNotification appends an update without touching status,
// enriches it with the sender identity, and forwards it to the client.
func (r *Router) handleTaskNotification(connID string, msg *protocol.Message) {
	agent, ok := r.agents.GetByConnection(connID)
	if !ok {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.UnknownIdentity("connection is not registered"))
		return
	}

	var content protocol.NotificationContent
	if err := msg.ParseContent(&content); err != nil || content.TaskID == "" {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.InvalidMessage("taskId is required"))
		return
	}

	task, err := r.tasks.AppendUpdate(content.TaskID, taskstore.Details{
		Message: content.Message,
		Data:    content.Data,
	})
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}

	content.AgentID = agent.ID
	content.AgentName = agent.Name
	r.notifyClient(task.ClientID, protocol.TypeTaskNotification, content, "")

	r.reply(gateway.RoleAgent, connID, msg.ID, protocol.TypeNotificationReceived, map[string]interface{}{
		"taskId": task.ID,
	})
}

// handleTaskMessage routes an intermediate message from a client to the
// task's agent. Delivery failure surfaces as an error to the sender.
func (r *Router) handleTaskMessage(connID string, msg *protocol.Message) {
	var content protocol.TaskMessageContent
	if err := msg.ParseContent(&content); err != nil || content.TaskID == "" {
		r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.InvalidMessage("taskId is required"))
		return
	}

	task, err := r.tasks.Get(content.TaskID)
	if err != nil {
		r.sendError(gateway.RoleClient, connID, msg.ID, err)
		return
	}

	if !r.notifyAgent(task.AgentID, protocol.TypeTaskMessageResponse, content) {
		r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.UnavailablePeer("agent for task "+task.ID+" is offline"))
		return
	}

	r.reply(gateway.RoleClient, connID, msg.ID, protocol.TypeMessageSent, map[string]interface{}{
		"taskId": task.ID,
	})
}

// CreateTask creates and dispatches a task outside the websocket path.
// The MCP gateway uses it; the task carries no client id, so progress
// frames have nowhere to go and callers poll the store instead.
func (r *Router) CreateTask(agentRef, taskType string, taskData map[string]interface{}) (*taskstore.Task, error) {
	agent, err := r.resolveAgent(agentRef)
	if err != nil {
		return nil, err
	}

	task, err := r.tasks.Create(&taskstore.Task{
		Type:     taskType,
		AgentID:  agent.ID,
		TaskData: taskData,
	})
	if err != nil {
		return nil, err
	}
	metrics.TasksCreated.WithLabelValues("task").Inc()

	r.dispatchTask(task, agent, "")
	return r.tasks.Get(task.ID)
}

// failTasksForAgent fails every open task owned by a disconnected agent.
func (r *Router) failTasksForAgent(agent *registry.Peer) {
	for _, status := range []string{taskstore.StatusPending, taskstore.StatusInProgress} {
		for _, task := range r.tasks.List(taskstore.Filter{AgentID: agent.ID, Status: status}) {
			r.failTask(task.ID, "Agent disconnected")
		}
	}
}

// failTasksForService fails every open service task owned by a
// disconnected service.
func (r *Router) failTasksForService(service *registry.Peer) {
	for _, status := range []string{taskstore.StatusPending, taskstore.StatusInProgress} {
		for _, task := range r.serviceTasks.List(taskstore.Filter{ServiceID: service.ID, Status: status}) {
			r.failServiceTask(task.ID, "Service disconnected")
		}
	}
}
