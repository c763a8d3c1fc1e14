// Package orchestrator wires the hub together: registries, stores,
// router, the three websocket listeners, the MCP supervisor, and the
// optional MCP gateway.
package orchestrator

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/config"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/correlator"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/gateway"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/mcp"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/mcpserver"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/metrics"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/registry"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/router"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/taskstore"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/tracing"
)

// Orchestrator is the assembled hub.
type Orchestrator struct {
	cfg *config.Config

	Bus        *events.ProvidedBus
	busCleanup func() error

	Agents   *registry.PeerRegistry
	Services *registry.PeerRegistry
	Clients  *registry.ClientRegistry

	Tasks        *taskstore.Store
	ServiceTasks *taskstore.Store

	Correlator *correlator.Correlator
	Supervisor *mcp.Supervisor
	Router     *router.Router

	AgentListener   *gateway.Listener
	ClientListener  *gateway.Listener
	ServiceListener *gateway.Listener

	MCPGateway *mcpserver.Server

	logger *logger.Logger
}

// New assembles the orchestrator from configuration. Nothing listens
// until Start.
func New(cfg *config.Config, log *logger.Logger) (*Orchestrator, error) {
	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		return nil, err
	}
	eventBus := providedBus.Bus

	agents := registry.NewPeerRegistry("agent", eventBus, log,
		events.AgentConnected, events.AgentRegistered, events.AgentDisconnected)
	services := registry.NewPeerRegistry("service", eventBus, log,
		events.ServiceConnected, events.ServiceRegistered, events.ServiceDisconnected)
	clients := registry.NewClientRegistry(eventBus, log)

	tasks := taskstore.NewAgentTaskStore(eventBus, log)
	serviceTasks := taskstore.NewServiceTaskStore(eventBus, log)

	corr := correlator.New(log)
	supervisor := mcp.NewSupervisor(eventBus, log)
	for _, srv := range cfg.MCP.Servers {
		if _, err := supervisor.Register(mcp.ServerConfig{
			ID:       srv.ID,
			Name:     srv.Name,
			Type:     srv.Type,
			Path:     srv.Path,
			Command:  srv.Command,
			Args:     srv.Args,
			Metadata: srv.Metadata,
		}); err != nil {
			_ = busCleanup()
			return nil, err
		}
	}

	rtr := router.New(router.Deps{
		Agents:       agents,
		Services:     services,
		Clients:      clients,
		Tasks:        tasks,
		ServiceTasks: serviceTasks,
		Correlator:   corr,
		Supervisor:   supervisor,
		Bus:          eventBus,
		Logger:       log,
	})

	agentListener := gateway.NewListener(gateway.RoleAgent, cfg.Server.Host, cfg.Server.AgentPort, rtr, log)
	clientListener := gateway.NewListener(gateway.RoleClient, cfg.Server.Host, cfg.Server.ClientPort, rtr, log)
	serviceListener := gateway.NewListener(gateway.RoleService, cfg.Server.Host, cfg.Server.ServicePort, rtr, log)

	rtr.SetSender(gateway.RoleAgent, agentListener)
	rtr.SetSender(gateway.RoleClient, clientListener)
	rtr.SetSender(gateway.RoleService, serviceListener)

	// Prometheus scrapes go to the client-facing port.
	clientListener.Engine().GET("/metrics", gin.WrapH(metrics.Handler()))

	o := &Orchestrator{
		cfg:             cfg,
		Bus:             providedBus,
		busCleanup:      busCleanup,
		Agents:          agents,
		Services:        services,
		Clients:         clients,
		Tasks:           tasks,
		ServiceTasks:    serviceTasks,
		Correlator:      corr,
		Supervisor:      supervisor,
		Router:          rtr,
		AgentListener:   agentListener,
		ClientListener:  clientListener,
		ServiceListener: serviceListener,
		logger:          log.WithFields(zap.String("component", "orchestrator")),
	}

	if cfg.MCPGateway.Port > 0 {
		o.MCPGateway = mcpserver.New(cfg.MCPGateway.Port, mcpserver.Deps{
			Agents:     agents,
			Services:   services,
			Tasks:      tasks,
			Supervisor: supervisor,
			Router:     rtr,
		}, log)
	}

	return o, nil
}

// Start binds all listeners. On any bind failure everything that did
// start is stopped again.
func (o *Orchestrator) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range []*gateway.Listener{o.AgentListener, o.ClientListener, o.ServiceListener} {
		l := l
		g.Go(func() error { return l.Start(gctx) })
	}
	if o.MCPGateway != nil {
		g.Go(func() error { return o.MCPGateway.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		_ = o.Stop(ctx)
		return err
	}

	o.logger.Info("Orchestrator started",
		zap.String("agent_addr", o.AgentListener.Addr()),
		zap.String("client_addr", o.ClientListener.Addr()),
		zap.String("service_addr", o.ServiceListener.Addr()))
	return nil
}

// Stop shuts the hub down: listeners first so no new frames arrive,
// then pending awaits, then the MCP subprocesses, then the bus.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.logger.Info("Orchestrator stopping")

	for _, l := range []*gateway.Listener{o.AgentListener, o.ClientListener, o.ServiceListener} {
		if err := l.Stop(ctx); err != nil {
			o.logger.Warn("Listener stop failed", zap.Error(err))
		}
	}

	if o.MCPGateway != nil {
		if err := o.MCPGateway.Stop(ctx); err != nil {
			o.logger.Warn("MCP gateway stop failed", zap.Error(err))
		}
	}

	o.Correlator.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	o.Supervisor.Shutdown(shutdownCtx)

	if err := o.busCleanup(); err != nil {
		o.logger.Warn("Event bus cleanup failed", zap.Error(err))
	}

	if err := tracing.Shutdown(ctx); err != nil {
		o.logger.Warn("Tracing shutdown failed", zap.Error(err))
	}

	o.logger.Info("Orchestrator stopped")
	return nil
}
