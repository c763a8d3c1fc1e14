package router

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/gateway"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/registry"
	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

func (r *Router) handleAgentFrame(ctx context.Context, connID string, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeAgentRegister:
		r.handleAgentRegister(connID, msg)
	case protocol.TypeAgentListRequest:
		r.handleAgentDirectory(gateway.RoleAgent, connID, msg, protocol.TypeAgentListResponse)
	case protocol.TypeServiceList:
		r.handleServiceDirectory(connID, msg)
	case protocol.TypeServiceToolsList:
		r.handleServiceToolsList(ctx, connID, msg)
	case protocol.TypeServiceTaskExecute:
		r.handleServiceTaskExecute(ctx, connID, msg)
	case protocol.TypeAgentTaskRequest:
		r.handleAgentTaskRequest(ctx, connID, msg)
	case protocol.TypeTaskResult:
		r.handleTaskResult(connID, msg)
	case protocol.TypeTaskError:
		r.handleTaskError(connID, msg)
	case protocol.TypeTaskStatus:
		r.handleTaskStatus(connID, msg)
	case protocol.TypeTaskNotification:
		r.handleTaskNotification(connID, msg)
	case protocol.TypeAgentStatus, protocol.TypeAgentStatusUpdate:
		r.handleAgentStatusUpdate(connID, msg)
	case protocol.TypeMCPServersList, protocol.TypeAgentMCPServersList:
		r.handleMCPServersList(gateway.RoleAgent, connID, msg)
	case protocol.TypeMCPToolsList, protocol.TypeAgentMCPToolsList:
		r.handleMCPToolsList(ctx, gateway.RoleAgent, connID, msg)
	case protocol.TypeMCPToolExecute, protocol.TypeAgentMCPToolExecute:
		r.handleMCPToolExecute(ctx, gateway.RoleAgent, connID, msg)
	case protocol.TypePing:
		r.handlePing(gateway.RoleAgent, connID, msg)
	case protocol.TypePong:
		// Keepalive reply, nothing to do.
	default:
		r.handleUnknown(gateway.RoleAgent, connID, msg)
	}
}

// handleAgentRegister registers an agent identity on a pending
// connection and echoes the assigned id.
func (r *Router) handleAgentRegister(connID string, msg *protocol.Message) {
	var content protocol.RegisterContent
	if err := msg.ParseContent(&content); err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.InvalidMessage("invalid registration content"))
		return
	}

	peer, err := r.agents.Register(registry.Registration{
		ID:           content.ID,
		Name:         content.Name,
		Capabilities: content.Capabilities,
		Metadata:     content.Metadata,
	}, connID)
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}

	r.reply(gateway.RoleAgent, connID, msg.ID, protocol.TypeAgentRegistered, protocol.RegisteredContent{
		ID:     peer.ID,
		Name:   peer.Name,
		Status: registry.StatusOnline,
	})
}

// handleAgentDirectory answers agent list queries from either endpoint.
func (r *Router) handleAgentDirectory(role gateway.Role, connID string, msg *protocol.Message, replyType string) {
	var filter protocol.ListFilter
	if err := msg.ParseContent(&filter); err != nil {
		r.sendError(role, connID, msg.ID, apperrors.InvalidMessage("invalid filter content"))
		return
	}

	agents := r.agents.List(registry.Filter{
		Status:       filter.Status,
		Capabilities: filter.Capabilities,
	})
	r.reply(role, connID, msg.ID, replyType, map[string]interface{}{
		"agents": agents,
		"count":  len(agents),
	})
}

// handleServiceDirectory answers service.list from agents.
func (r *Router) handleServiceDirectory(connID string, msg *protocol.Message) {
	var filter protocol.ListFilter
	if err := msg.ParseContent(&filter); err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.InvalidMessage("invalid filter content"))
		return
	}

	services := r.services.List(registry.Filter{
		Status:       filter.Status,
		Capabilities: filter.Capabilities,
	})
	r.reply(gateway.RoleAgent, connID, msg.ID, protocol.TypeServiceListResult, map[string]interface{}{
		"services": services,
		"count":    len(services),
	})
}

// handleServiceToolsList forwards a tool listing request to the named
// service and relays its reply.
func (r *Router) handleServiceToolsList(ctx context.Context, connID string, msg *protocol.Message) {
	var content protocol.ServiceTaskExecuteContent
	if err := msg.ParseContent(&content); err != nil || content.ServiceID == "" {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.InvalidMessage("serviceId is required"))
		return
	}

	service, err := r.resolveService(content.ServiceID)
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}
	if service.ConnectionID == "" {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.UnavailablePeer("service "+service.Name+" is offline"))
		return
	}

	forward, _ := protocol.New(protocol.TypeServiceToolsList, msg.Content)
	reply, err := r.correlator.SendAndAwait(ctx, func(m *protocol.Message) error {
		return r.send(gateway.RoleService, service.ConnectionID, m)
	}, forward, 0, nil)
	if err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}

	r.reply(gateway.RoleAgent, connID, msg.ID, protocol.TypeServiceResponse, reply.Content)
}

// handleAgentStatusUpdate merges status details into the agent record
// and tells connected clients.
func (r *Router) handleAgentStatusUpdate(connID string, msg *protocol.Message) {
	agent, ok := r.agents.GetByConnection(connID)
	if !ok {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.UnknownIdentity("connection is not registered"))
		return
	}

	var content protocol.StatusUpdateContent
	if err := msg.ParseContent(&content); err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, apperrors.InvalidMessage("invalid status content"))
		return
	}

	details := content.Details
	if details == nil {
		details = make(map[string]interface{})
	}
	if content.Status != "" {
		details["status"] = content.Status
	}
	if _, err := r.agents.UpdateStatusDetails(agent.ID, details); err != nil {
		r.sendError(gateway.RoleAgent, connID, msg.ID, err)
		return
	}

	r.broadcastToClients(protocol.TypeSystemNotification, map[string]interface{}{
		"event":     "agent.status",
		"agentId":   agent.ID,
		"agentName": agent.Name,
		"status":    content.Status,
		"details":   content.Details,
	})
}

// broadcastToClients fans a notification out to every online client.
func (r *Router) broadcastToClients(msgType string, content interface{}) {
	for _, client := range r.clients.List(registry.StatusOnline) {
		if client.ConnectionID == "" {
			continue
		}
		msg, err := protocol.New(msgType, content)
		if err != nil {
			return
		}
		if err := r.send(gateway.RoleClient, client.ConnectionID, msg); err != nil {
			r.logger.Debug("Broadcast delivery failed",
				zap.String("client_id", client.ID),
				zap.Error(err))
		}
	}
}

// resolveAgent finds an agent by id, then by name.
func (r *Router) resolveAgent(idOrName string) (*registry.Peer, error) {
	if agent, ok := r.agents.Get(idOrName); ok {
		return agent, nil
	}
	if agent, ok := r.agents.GetByName(idOrName); ok {
		return agent, nil
	}
	return nil, apperrors.NotFound("agent", idOrName)
}

// resolveService finds a service by id, then by name.
func (r *Router) resolveService(idOrName string) (*registry.Peer, error) {
	if service, ok := r.services.Get(idOrName); ok {
		return service, nil
	}
	if service, ok := r.services.GetByName(idOrName); ok {
		return service, nil
	}
	return nil, apperrors.NotFound("service", idOrName)
}
