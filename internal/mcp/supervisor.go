package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events/bus"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/metrics"
)

// ServerConfig is the registration input for one MCP server.
type ServerConfig struct {
	ID           string
	Name         string
	Type         string
	Path         string
	Command      string
	Args         []string
	Capabilities []string
	Metadata     map[string]interface{}
}

// Supervisor owns the MCP server records and the live subprocess
// connections. Tool calls lazy-connect: a registered server is spawned
// on first use and respawned after a failure.
type Supervisor struct {
	mu      sync.Mutex
	servers map[string]*Server
	conns   map[string]*Connection // keyed by server id

	bus    bus.EventBus
	logger *logger.Logger
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(eventBus bus.EventBus, log *logger.Logger) *Supervisor {
	return &Supervisor{
		servers: make(map[string]*Server),
		conns:   make(map[string]*Connection),
		bus:     eventBus,
		logger:  log.WithFields(zap.String("component", "mcp-supervisor")),
	}
}

// Register upserts a server record by id. Registration is idempotent; a
// missing id is minted. The record starts (or returns to) status
// registered without touching a live connection.
func (s *Supervisor) Register(cfg ServerConfig) (*Server, error) {
	if cfg.Name == "" {
		return nil, apperrors.InvalidMessage("mcp server requires a name")
	}
	if cfg.Path == "" && cfg.Command == "" {
		return nil, apperrors.InvalidMessage("mcp server requires a path or command")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC()
	server, exists := s.servers[id]
	if exists {
		server.Name = cfg.Name
		server.Type = cfg.Type
		server.Path = cfg.Path
		server.Command = cfg.Command
		server.Args = append([]string(nil), cfg.Args...)
		server.Capabilities = append([]string(nil), cfg.Capabilities...)
		server.Metadata = cfg.Metadata
		server.UpdatedAt = now
	} else {
		server = &Server{
			ID:           id,
			Name:         cfg.Name,
			Type:         cfg.Type,
			Path:         cfg.Path,
			Command:      cfg.Command,
			Args:         append([]string(nil), cfg.Args...),
			Capabilities: append([]string(nil), cfg.Capabilities...),
			Status:       StatusRegistered,
			Metadata:     cfg.Metadata,
			RegisteredAt: now,
		}
		s.servers[id] = server
	}

	s.logger.Info("MCP server registered",
		zap.String("server_id", id),
		zap.String("name", cfg.Name))
	s.publish(events.MCPServerRegistered, map[string]interface{}{
		"serverId": id,
		"name":     cfg.Name,
	})
	return cloneServer(server), nil
}

// Get resolves a server by id, falling back to name.
func (s *Supervisor) Get(idOrName string) (*Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	server, err := s.resolveLocked(idOrName)
	if err != nil {
		return nil, err
	}
	return cloneServer(server), nil
}

// List returns all server records.
func (s *Supervisor) List() []*Server {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*Server, 0, len(s.servers))
	for _, server := range s.servers {
		result = append(result, cloneServer(server))
	}
	return result
}

// Connect spawns the server's subprocess and performs the initialize
// handshake. An existing live connection is disconnected first.
func (s *Supervisor) Connect(ctx context.Context, idOrName string) (*Connection, error) {
	s.mu.Lock()
	server, err := s.resolveLocked(idOrName)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if old, ok := s.conns[server.ID]; ok {
		delete(s.conns, server.ID)
		s.mu.Unlock()
		old.stop()
		s.mu.Lock()
	}
	launch := cloneServer(server)
	s.mu.Unlock()

	conn, err := spawn(launch, s.logger, s.handleExit)
	if err == nil {
		err = conn.initialize()
	}
	if err != nil {
		if conn != nil {
			conn.stop()
		}
		s.setStatus(launch.ID, StatusError, "")
		s.publish(events.MCPServerErrored, map[string]interface{}{
			"serverId": launch.ID,
			"error":    err.Error(),
		})
		return nil, apperrors.UnavailablePeer("mcp server " + launch.Name + ": " + err.Error())
	}

	s.mu.Lock()
	s.conns[launch.ID] = conn
	s.mu.Unlock()
	s.setStatus(launch.ID, StatusOnline, conn.ID)

	s.publish(events.MCPServerConnected, map[string]interface{}{
		"serverId":     launch.ID,
		"connectionId": conn.ID,
		"tools":        len(conn.Tools()),
	})
	return conn, nil
}

// ListTools returns the server's tool set, connecting first if needed.
func (s *Supervisor) ListTools(ctx context.Context, idOrName string) ([]Tool, error) {
	conn, err := s.ensureConnected(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	return conn.Tools(), nil
}

// ExecuteTool runs a tool call on the server, connecting first if
// needed. A non-positive timeout selects the 30 s default.
func (s *Supervisor) ExecuteTool(ctx context.Context, idOrName, toolName string, args map[string]interface{}, timeout time.Duration) (*ToolResult, error) {
	server, err := s.Get(idOrName)
	if err != nil {
		return nil, err
	}

	conn, err := s.ensureConnected(ctx, server.ID)
	if err != nil {
		metrics.MCPToolCalls.WithLabelValues(server.Name, "error").Inc()
		return nil, err
	}

	result, err := conn.execute(toolName, args, timeout)
	if err != nil {
		metrics.MCPToolCalls.WithLabelValues(server.Name, "error").Inc()
		return nil, err
	}
	metrics.MCPToolCalls.WithLabelValues(server.Name, "success").Inc()
	return result, nil
}

// Disconnect stops the server's subprocess: best-effort shutdown frame,
// then kill. The record returns to status registered.
func (s *Supervisor) Disconnect(idOrName string) error {
	s.mu.Lock()
	server, err := s.resolveLocked(idOrName)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	conn, ok := s.conns[server.ID]
	if ok {
		delete(s.conns, server.ID)
	}
	id := server.ID
	s.mu.Unlock()

	if ok {
		conn.stop()
	}
	s.setStatus(id, StatusRegistered, "")
	return nil
}

// Shutdown kills every live subprocess.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[string]*Connection)
	s.mu.Unlock()

	for _, conn := range conns {
		conn.stop()
		s.setStatus(conn.ServerID, StatusRegistered, "")
	}
}

// ensureConnected returns the live connection for a server, spawning one
// if necessary.
func (s *Supervisor) ensureConnected(ctx context.Context, idOrName string) (*Connection, error) {
	s.mu.Lock()
	server, err := s.resolveLocked(idOrName)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if conn, ok := s.conns[server.ID]; ok && conn.State() == connReady {
		s.mu.Unlock()
		return conn, nil
	}
	id := server.ID
	s.mu.Unlock()

	return s.Connect(ctx, id)
}

// handleExit reacts to a subprocess dying: the connection is dropped and
// the server record returns to registered so the next call reconnects.
func (s *Supervisor) handleExit(connID string) {
	s.mu.Lock()
	var serverID string
	for id, conn := range s.conns {
		if conn.ID == connID {
			serverID = id
			delete(s.conns, id)
			break
		}
	}
	s.mu.Unlock()

	if serverID == "" {
		return
	}
	s.setStatus(serverID, StatusRegistered, "")
	s.publish(events.MCPServerDisconnected, map[string]interface{}{
		"serverId":     serverID,
		"connectionId": connID,
	})
}

// resolveLocked finds a server by id, then by name. Caller holds the lock.
func (s *Supervisor) resolveLocked(idOrName string) (*Server, error) {
	if server, ok := s.servers[idOrName]; ok {
		return server, nil
	}
	for _, server := range s.servers {
		if server.Name == idOrName {
			return server, nil
		}
	}
	return nil, apperrors.NotFound("mcp server", idOrName)
}

func (s *Supervisor) setStatus(serverID, status, connID string) {
	s.mu.Lock()
	if server, ok := s.servers[serverID]; ok {
		server.Status = status
		server.ConnectionID = connID
		server.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()
}

func (s *Supervisor) publish(eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	event := bus.NewEvent(eventType, events.SourceMCPSupervisor, data)
	if err := s.bus.Publish(context.Background(), eventType, event); err != nil {
		s.logger.Warn("Failed to publish mcp event", zap.Error(err))
	}
}
