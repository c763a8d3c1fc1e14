package router

import (
	"context"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/gateway"
	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

func (r *Router) handleClientFrame(ctx context.Context, connID string, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeClientRegister:
		r.handleClientRegister(connID, msg)
	case protocol.TypeClientList:
		r.handleClientList(connID, msg)
	case protocol.TypeClientTaskCreate, protocol.TypeClientTaskCreateAlias:
		r.handleClientTaskCreate(ctx, connID, msg)
	case protocol.TypeClientTaskStatusRequest:
		r.handleClientTaskStatus(connID, msg)
	case protocol.TypeClientAgentListRequest:
		r.handleAgentDirectory(gateway.RoleClient, connID, msg, protocol.TypeAgentList)
	case protocol.TypeClientMCPServerList:
		r.handleMCPServersList(gateway.RoleClient, connID, msg)
	case protocol.TypeMCPServerTools:
		r.handleMCPToolsList(ctx, gateway.RoleClient, connID, msg)
	case protocol.TypeMCPToolExecute:
		r.handleMCPToolExecute(ctx, gateway.RoleClient, connID, msg)
	case protocol.TypeClientMessage:
		r.handleClientMessage(connID, msg)
	case protocol.TypeTaskMessage:
		r.handleTaskMessage(connID, msg)
	case protocol.TypePing:
		r.handlePing(gateway.RoleClient, connID, msg)
	case protocol.TypePong:
		// Keepalive reply, nothing to do.
	default:
		r.handleUnknown(gateway.RoleClient, connID, msg)
	}
}

// handleClientRegister upserts the client's name and metadata.
func (r *Router) handleClientRegister(connID string, msg *protocol.Message) {
	var content protocol.ClientRegisterContent
	if err := msg.ParseContent(&content); err != nil {
		r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.InvalidMessage("invalid registration content"))
		return
	}

	client, err := r.clients.Register(connID, content.Name, content.Metadata)
	if err != nil {
		r.sendError(gateway.RoleClient, connID, msg.ID, err)
		return
	}

	r.reply(gateway.RoleClient, connID, msg.ID, protocol.TypeClientRegisterResponse, map[string]interface{}{
		"clientId": client.ID,
		"name":     client.Name,
		"status":   client.Status,
	})
}

// handleClientList answers a directory query over connected clients.
func (r *Router) handleClientList(connID string, msg *protocol.Message) {
	var filter protocol.ListFilter
	if err := msg.ParseContent(&filter); err != nil {
		r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.InvalidMessage("invalid filter content"))
		return
	}

	clients := r.clients.List(filter.Status)
	r.reply(gateway.RoleClient, connID, msg.ID, protocol.TypeClientListResponse, map[string]interface{}{
		"clients": clients,
		"count":   len(clients),
	})
}

// handleClientTaskStatus returns a snapshot of one task.
func (r *Router) handleClientTaskStatus(connID string, msg *protocol.Message) {
	var content protocol.TaskOutcomeContent
	if err := msg.ParseContent(&content); err != nil || content.TaskID == "" {
		r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.InvalidMessage("taskId is required"))
		return
	}

	task, err := r.tasks.Get(content.TaskID)
	if err != nil {
		r.sendError(gateway.RoleClient, connID, msg.ID, err)
		return
	}

	r.reply(gateway.RoleClient, connID, msg.ID, protocol.TypeTaskStatus, map[string]interface{}{
		"taskId":      task.ID,
		"agentId":     task.AgentID,
		"status":      task.Status,
		"result":      task.Result,
		"error":       task.Error,
		"updateCount": len(task.Updates),
	})
}

// handleClientMessage routes a client-to-client message, or broadcasts a
// system notification when no target is named.
func (r *Router) handleClientMessage(connID string, msg *protocol.Message) {
	sender, ok := r.clients.GetByConnection(connID)
	if !ok {
		r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.UnknownIdentity("connection is not registered"))
		return
	}

	var content struct {
		TargetClientID string                 `json:"targetClientId,omitempty"`
		Message        string                 `json:"message"`
		Data           map[string]interface{} `json:"data,omitempty"`
	}
	if err := msg.ParseContent(&content); err != nil {
		r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.InvalidMessage("invalid message content"))
		return
	}

	payload := map[string]interface{}{
		"event":        "client.message",
		"fromClientId": sender.ID,
		"message":      content.Message,
		"data":         content.Data,
	}

	if content.TargetClientID != "" {
		if _, ok := r.clients.Get(content.TargetClientID); !ok {
			r.sendError(gateway.RoleClient, connID, msg.ID, apperrors.NotFound("client", content.TargetClientID))
			return
		}
		r.notifyClient(content.TargetClientID, protocol.TypeSystemNotification, payload, "")
	} else {
		r.broadcastToClients(protocol.TypeSystemNotification, payload)
	}

	r.reply(gateway.RoleClient, connID, msg.ID, protocol.TypeMessageSent, map[string]interface{}{
		"delivered": true,
	})
}
