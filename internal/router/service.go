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

func (r *Router) handleServiceFrame(ctx context.Context, connID string, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeServiceRegister:
		r.handleServiceRegister(connID, msg)
	case protocol.TypeServiceStatusUpdate:
		r.handleServiceStatusUpdate(connID, msg)
	case protocol.TypeServiceTaskResult:
		r.handleServiceTaskResult(connID, msg)
	case protocol.TypeServiceTaskNotification:
		r.handleServiceTaskNotification(connID, msg)
	case protocol.TypeServiceError:
		r.handleServiceError(connID, msg)
	case protocol.TypePing:
		r.handlePing(gateway.RoleService, connID, msg)
	case protocol.TypePong:
		// Keepalive reply, nothing to do.
	default:
		r.handleUnknown(gateway.RoleService, connID, msg)
	}
}

// handleServiceRegister mirrors agent registration for services.
func (r *Router) handleServiceRegister(connID string, msg *protocol.Message) {
	var content protocol.RegisterContent
	if err := msg.ParseContent(&content); err != nil {
		r.sendError(gateway.RoleService, connID, msg.ID, apperrors.InvalidMessage("invalid registration content"))
		return
	}

	peer, err := r.services.Register(registry.Registration{
		ID:           content.ID,
		Name:         content.Name,
		Capabilities: content.Capabilities,
		Metadata:     content.Metadata,
	}, connID)
	if err != nil {
		r.sendError(gateway.RoleService, connID, msg.ID, err)
		return
	}

	r.reply(gateway.RoleService, connID, msg.ID, protocol.TypeServiceRegistered, protocol.RegisteredContent{
		ID:     peer.ID,
		Name:   peer.Name,
		Status: registry.StatusOnline,
	})
}

// handleServiceStatusUpdate merges status details into the service
// record, acknowledges, and tells connected clients.
func (r *Router) handleServiceStatusUpdate(connID string, msg *protocol.Message) {
	service, ok := r.services.GetByConnection(connID)
	if !ok {
		r.sendError(gateway.RoleService, connID, msg.ID, apperrors.UnknownIdentity("connection is not registered"))
		return
	}

	var content protocol.StatusUpdateContent
	if err := msg.ParseContent(&content); err != nil {
		r.sendError(gateway.RoleService, connID, msg.ID, apperrors.InvalidMessage("invalid status content"))
		return
	}

	details := content.Details
	if details == nil {
		details = make(map[string]interface{})
	}
	if content.Status != "" {
		details["status"] = content.Status
	}
	if _, err := r.services.UpdateStatusDetails(service.ID, details); err != nil {
		r.sendError(gateway.RoleService, connID, msg.ID, err)
		return
	}

	r.reply(gateway.RoleService, connID, msg.ID, protocol.TypeServiceStatusUpdated, map[string]interface{}{
		"serviceId": service.ID,
		"status":    content.Status,
	})

	r.broadcastToClients(protocol.TypeSystemNotification, map[string]interface{}{
		"event":       "service.status",
		"serviceId":   service.ID,
		"serviceName": service.Name,
		"status":      content.Status,
	})
}

// handleServiceTaskExecute invokes a service tool on behalf of an agent:
// record the task, notify the observing client, dispatch to the service,
// then accept.
func (r *Router) handleServiceTaskExecute(ctx context.Context, connID string, msg *protocol.Message) {
	requester, ok := r.agents.GetByConnection(connID)
	if !ok {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.UnknownIdentity("connection is not registered"))
		return
	}

	var content protocol.ServiceTaskExecuteContent
	if err := msg.ParseContent(&content); err != nil || content.ServiceID == "" || content.ToolName == "" {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.InvalidMessage("serviceId and toolName are required"))
		return
	}

	service, err := r.resolveService(content.ServiceID)
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}

	task, err := r.serviceTasks.Create(&taskstore.Task{
		Type:      content.ToolName,
		AgentID:   requester.ID,
		ServiceID: service.ID,
		ClientID:  content.ClientID,
	})
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}
	metrics.TasksCreated.WithLabelValues("servicetask").Inc()

	r.notifyClient(content.ClientID, protocol.TypeServiceStarted, map[string]interface{}{
		"serviceTaskId": task.ID,
		"serviceName":   service.Name,
		"toolName":      content.ToolName,
	}, "")

	dispatched := false
	if service.ConnectionID != "" {
		forward, buildErr := protocol.New(protocol.TypeServiceTaskExecute, protocol.ServiceTaskExecuteContent{
			TaskID:    task.ID,
			ServiceID: service.ID,
			ToolName:  content.ToolName,
			Params:    content.Params,
			ClientID:  content.ClientID,
			AgentID:   requester.ID,
		})
		if buildErr == nil && r.send(gateway.RoleService, service.ConnectionID, forward) == nil {
			dispatched = true
		}
	}

	if !dispatched {
		r.failServiceTask(task.ID, "Service connection not found")
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.UnavailablePeer("service "+service.Name+" is offline"))
		return
	}

	if _, err := r.serviceTasks.UpdateStatus(task.ID, taskstore.StatusInProgress, taskstore.Details{}); err == nil {
		metrics.TaskTransitions.WithLabelValues("servicetask", taskstore.StatusInProgress).Inc()
	}

	r.reply(gateway.RoleAgent, connID, msg.ID, protocol.TypeServiceRequestAccepted, map[string]interface{}{
		"serviceTaskId": task.ID,
		"serviceId":     service.ID,
		"serviceName":   service.Name,
	})
}

// handleServiceTaskResult completes a service task and fans the result
// out to the requesting agent and the observing client.
func (r *Router) handleServiceTaskResult(connID string, msg *protocol.Message) {
	var content protocol.TaskOutcomeContent
	if err := msg.ParseContent(&content); err != nil || content.TaskID == "" {
		r.sendError(gateway.RoleService, connID, msg.ID, apperrors.InvalidMessage("taskId is required"))
		return
	}

	task, err := r.serviceTasks.UpdateStatus(content.TaskID, taskstore.StatusCompleted, taskstore.Details{Result: content.Result})
	if err != nil {
		r.sendError(gateway.RoleService, connID, msg.ID, err)
		return
	}
	metrics.TaskTransitions.WithLabelValues("servicetask", taskstore.StatusCompleted).Inc()

	r.notifyClient(task.ClientID, protocol.TypeServiceCompleted, map[string]interface{}{
		"serviceTaskId": task.ID,
		"result":        content.Result,
		"status":        taskstore.StatusCompleted,
	}, "")

	r.notifyAgent(task.AgentID, protocol.TypeServiceResponse, map[string]interface{}{
		"serviceTaskId": task.ID,
		"status":        taskstore.StatusCompleted,
		"result":        content.Result,
	})
}

// handleServiceTaskNotification forwards a service notification to the
// task's client, and to the agent when the notification carries agent
// metadata. Status never changes.
func (r *Router) handleServiceTaskNotification(connID string, msg *protocol.Message) {
	service, ok := r.services.GetByConnection(connID)
	if !ok {
		r.sendError(gateway.RoleService, connID, msg.ID, apperrors.UnknownIdentity("connection is not registered"))
		return
	}

	var content protocol.NotificationContent
	if err := msg.ParseContent(&content); err != nil || content.TaskID == "" {
		r.sendError(gateway.RoleService, connID, msg.ID, apperrors.InvalidMessage("taskId is required"))
		return
	}

	task, err := r.serviceTasks.AppendUpdate(content.TaskID, taskstore.Details{
		Message: content.Message,
		Data:    content.Data,
	})
	if err != nil {
		r.sendError(gateway.RoleService, connID, msg.ID, err)
		return
	}

	content.ServiceID = service.ID
	content.ServiceName = service.Name
	r.notifyClient(task.ClientID, protocol.TypeServiceNotification, content, "")

	if content.AgentID != "" {
		r.notifyAgent(content.AgentID, protocol.TypeServiceNotification, content)
	} else if task.AgentID != "" {
		r.notifyAgent(task.AgentID, protocol.TypeServiceNotification, content)
	}

	r.reply(gateway.RoleService, connID, msg.ID, protocol.TypeNotificationReceived, map[string]interface{}{
		"taskId": task.ID,
	})
}

// handleServiceError fails a service task reported broken by its service.
func (r *Router) handleServiceError(connID string, msg *protocol.Message) {
	var content protocol.TaskOutcomeContent
	if err := msg.ParseContent(&content); err != nil || content.TaskID == "" {
		r.sendError(gateway.RoleService, connID, msg.ID, apperrors.InvalidMessage("taskId is required"))
		return
	}

	reason := content.Error
	if reason == "" {
		reason = "service error"
	}
	r.failServiceTask(content.TaskID, reason)
}

// failServiceTask transitions a service task to failed and notifies the
// requesting agent and observing client.
func (r *Router) failServiceTask(taskID, reason string) {
	task, err := r.serviceTasks.UpdateStatus(taskID, taskstore.StatusFailed, taskstore.Details{Error: reason})
	if err != nil {
		r.logger.Debug("Could not fail service task",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	metrics.TaskTransitions.WithLabelValues("servicetask", taskstore.StatusFailed).Inc()

	r.notifyClient(task.ClientID, protocol.TypeServiceCompleted, map[string]interface{}{
		"serviceTaskId": task.ID,
		"status":        taskstore.StatusFailed,
		"error":         reason,
	}, "")

	r.notifyAgent(task.AgentID, protocol.TypeServiceResponse, map[string]interface{}{
		"serviceTaskId": task.ID,
		"status":        taskstore.StatusFailed,
		"error":         reason,
	})
}
