// Package router holds the orchestrator's business logic: it consumes
// typed frames from the three listeners and produces registry mutations
// and outbound frames.
package router

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/correlator"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events/bus"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/gateway"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/mcp"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/registry"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/taskstore"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/tracing"
	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

// Sender is the slice of a listener the router writes through. The
// router never touches transports directly.
type Sender interface {
	Send(connID string, msg *protocol.Message) error
	SendError(connID, requestID, code, errMsg string, details map[string]interface{})
}

// Router implements gateway.FrameHandler for all three endpoints.
type Router struct {
	agents       *registry.PeerRegistry
	services     *registry.PeerRegistry
	clients      *registry.ClientRegistry
	tasks        *taskstore.Store
	serviceTasks *taskstore.Store
	correlator   *correlator.Correlator
	supervisor   *mcp.Supervisor
	bus          bus.EventBus

	mu      sync.RWMutex
	senders map[gateway.Role]Sender

	tracer trace.Tracer
	logger *logger.Logger
}

// Deps bundles the router's collaborators.
type Deps struct {
	Agents       *registry.PeerRegistry
	Services     *registry.PeerRegistry
	Clients      *registry.ClientRegistry
	Tasks        *taskstore.Store
	ServiceTasks *taskstore.Store
	Correlator   *correlator.Correlator
	Supervisor   *mcp.Supervisor
	Bus          bus.EventBus
	Logger       *logger.Logger
}

// New creates a router. Senders are attached afterwards via SetSender,
// once the listeners exist.
func New(deps Deps) *Router {
	return &Router{
		agents:       deps.Agents,
		services:     deps.Services,
		clients:      deps.Clients,
		tasks:        deps.Tasks,
		serviceTasks: deps.ServiceTasks,
		correlator:   deps.Correlator,
		supervisor:   deps.Supervisor,
		bus:          deps.Bus,
		senders:      make(map[gateway.Role]Sender),
		tracer:       tracing.Tracer("router"),
		logger:       deps.Logger.WithFields(zap.String("component", "router")),
	}
}

// SetSender attaches the listener for a role.
func (r *Router) SetSender(role gateway.Role, sender Sender) {
	r.mu.Lock()
	r.senders[role] = sender
	r.mu.Unlock()
}

func (r *Router) sender(role gateway.Role) Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.senders[role]
}

// HandleConnect records the fresh connection in the registry for its role.
func (r *Router) HandleConnect(role gateway.Role, connID string) {
	switch role {
	case gateway.RoleAgent:
		r.agents.AddPending(connID)
	case gateway.RoleService:
		r.services.AddPending(connID)
	case gateway.RoleClient:
		r.clients.AddConnection(connID)
	}
}

// HandleFrame classifies and dispatches one inbound frame. Frames
// answering a pending send-and-await are consumed by the correlator and
// go no further.
func (r *Router) HandleFrame(ctx context.Context, role gateway.Role, connID string, msg *protocol.Message) {
	if r.correlator.Resolve(msg) {
		return
	}

	ctx, span := r.tracer.Start(ctx, "router.dispatch",
		trace.WithAttributes(
			attribute.String("frame.type", msg.Type),
			attribute.String("frame.role", string(role)),
		))
	defer span.End()

	r.logger.Debug("Dispatching frame",
		zap.String("role", string(role)),
		zap.String("type", msg.Type),
		zap.String("connection_id", connID))

	switch role {
	case gateway.RoleAgent:
		r.handleAgentFrame(ctx, connID, msg)
	case gateway.RoleClient:
		r.handleClientFrame(ctx, connID, msg)
	case gateway.RoleService:
		r.handleServiceFrame(ctx, connID, msg)
	}
}

// HandleDisconnect updates the registry for the closed connection and
// fails the tasks stranded by it.
func (r *Router) HandleDisconnect(role gateway.Role, connID string) {
	switch role {
	case gateway.RoleAgent:
		if peer := r.agents.HandleDisconnect(connID); peer != nil {
			r.failTasksForAgent(peer)
		}
	case gateway.RoleService:
		if peer := r.services.HandleDisconnect(connID); peer != nil {
			r.failTasksForService(peer)
		}
	case gateway.RoleClient:
		r.clients.HandleDisconnect(connID)
	}
}

// send routes an envelope through the role's listener.
func (r *Router) send(role gateway.Role, connID string, msg *protocol.Message) error {
	sender := r.sender(role)
	if sender == nil {
		return apperrors.UnavailablePeer("no listener for role " + string(role))
	}
	return sender.Send(connID, msg)
}

// sendError routes an error frame through the role's listener.
func (r *Router) sendError(role gateway.Role, connID, requestID string, err error) {
	sender := r.sender(role)
	if sender == nil {
		return
	}
	var details map[string]interface{}
	message := err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok {
		message = appErr.Message
		details = appErr.Details
	}
	sender.SendError(connID, requestID, apperrors.CodeOf(err), message, details)
}

// reply builds and sends a response frame; marshal failures surface as
// error frames.
func (r *Router) reply(role gateway.Role, connID, requestID, msgType string, content interface{}) {
	msg, err := protocol.NewReply(requestID, msgType, content)
	if err != nil {
		r.sendError(role, connID, requestID, apperrors.Internal("failed to encode reply", err))
		return
	}
	if err := r.send(role, connID, msg); err != nil {
		r.logger.Warn("Failed to send reply",
			zap.String("type", msgType),
			zap.String("connection_id", connID),
			zap.Error(err))
	}
}

// notifyClient sends a frame to a client by client id, skipping silently
// when the client is gone.
func (r *Router) notifyClient(clientID, msgType string, content interface{}, requestID string) {
	if clientID == "" {
		return
	}
	client, ok := r.clients.Get(clientID)
	if !ok || client.ConnectionID == "" {
		r.logger.Debug("Dropping frame for absent client",
			zap.String("client_id", clientID),
			zap.String("type", msgType))
		return
	}
	msg, err := protocol.NewReply(requestID, msgType, content)
	if err != nil {
		return
	}
	if err := r.send(gateway.RoleClient, client.ConnectionID, msg); err != nil {
		r.logger.Debug("Failed to notify client",
			zap.String("client_id", clientID),
			zap.Error(err))
	}
}

// notifyAgent sends a frame to an agent by identity id. Returns false
// when the agent is offline or the write fails.
func (r *Router) notifyAgent(agentID, msgType string, content interface{}) bool {
	agent, ok := r.agents.Get(agentID)
	if !ok || agent.ConnectionID == "" {
		return false
	}
	msg, err := protocol.New(msgType, content)
	if err != nil {
		return false
	}
	if err := r.send(gateway.RoleAgent, agent.ConnectionID, msg); err != nil {
		return false
	}
	return true
}

// handlePing answers ping with pong on any endpoint, echoing the request
// id. The returned timestamp is the hub's clock, or the peer's own
// timestamp when that is ahead of it, so the pong never reads earlier
// than the ping that prompted it.
func (r *Router) handlePing(role gateway.Role, connID string, msg *protocol.Message) {
	ts := time.Now().UTC()
	var content protocol.PingContent
	if err := msg.ParseContent(&content); err == nil && content.Timestamp != "" {
		if sent, perr := time.Parse(time.RFC3339Nano, content.Timestamp); perr == nil && sent.After(ts) {
			ts = sent.UTC()
		}
	}
	r.reply(role, connID, msg.ID, protocol.TypePong, protocol.PongContent{
		Timestamp: ts.Format(time.RFC3339Nano),
	})
}

// handleUnknown rejects a frame with an unsupported type. No state
// changes.
func (r *Router) handleUnknown(role gateway.Role, connID string, msg *protocol.Message) {
	r.sendError(role, connID, msg.ID, apperrors.UnsupportedMessageType(msg.Type))
}
