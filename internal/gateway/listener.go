package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/metrics"
	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FrameHandler consumes decoded frames and connection lifecycle events.
// The router implements it.
type FrameHandler interface {
	HandleConnect(role Role, connID string)
	HandleFrame(ctx context.Context, role Role, connID string, msg *protocol.Message)
	HandleDisconnect(role Role, connID string)
}

// Listener is one peer-facing endpoint. It owns the connections accepted
// on its port and is the only component that writes to them.
type Listener struct {
	role    Role
	addr    string
	handler FrameHandler

	engine *gin.Engine
	server *http.Server

	mu    sync.RWMutex
	conns map[string]*Conn

	logger *logger.Logger
}

// NewListener creates a listener for the given role and address.
func NewListener(role Role, host string, port int, handler FrameHandler, log *logger.Logger) *Listener {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	l := &Listener{
		role:    role,
		addr:    fmt.Sprintf("%s:%d", host, port),
		handler: handler,
		engine:  engine,
		conns:   make(map[string]*Conn),
		logger:  log.WithFields(zap.String("component", string(role)+"-listener")),
	}

	engine.GET("/", l.handleConnection)
	engine.GET("/ws", l.handleConnection)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"role":   string(role),
		})
	})

	return l
}

// Engine exposes the gin engine so the orchestrator can mount extra
// routes (e.g. /metrics) before Start.
func (l *Listener) Engine() *gin.Engine {
	return l.engine
}

// Addr returns the listen address.
func (l *Listener) Addr() string {
	return l.addr
}

// Start begins accepting connections. It returns once the listener is
// bound; serving continues until ctx is cancelled or Stop is called.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.addr, err)
	}
	// Port 0 resolves to an ephemeral port; expose the real one.
	l.addr = ln.Addr().String()

	l.server = &http.Server{Handler: l.engine}

	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.logger.Error("Listener serve error", zap.Error(err))
		}
	}()

	l.logger.Info("Listener started", zap.String("addr", l.addr))
	return nil
}

// Stop closes the listener and all of its connections.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	conns := make([]*Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	if l.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return l.server.Shutdown(shutdownCtx)
}

// Send routes an envelope to the given connection.
func (l *Listener) Send(connID string, msg *protocol.Message) error {
	l.mu.RLock()
	conn, ok := l.conns[connID]
	l.mu.RUnlock()
	if !ok {
		return apperrors.UnavailablePeer("no " + string(l.role) + " connection with id " + connID)
	}
	return conn.Send(msg)
}

// SendError routes an error frame to the given connection.
func (l *Listener) SendError(connID, requestID, code, errMsg string, details map[string]interface{}) {
	l.mu.RLock()
	conn, ok := l.conns[connID]
	l.mu.RUnlock()
	if !ok {
		l.logger.Debug("Dropping error frame for unknown connection",
			zap.String("connection_id", connID))
		return
	}
	metrics.RouterErrors.WithLabelValues(code).Inc()
	conn.SendError(requestID, code, errMsg, details)
}

// ConnectionCount returns the number of open connections.
func (l *Listener) ConnectionCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.conns)
}

// handleConnection upgrades HTTP to WebSocket, records the pending
// connection, and sends the welcome frame.
func (l *Listener) handleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	connID := uuid.New().String()
	conn := newConn(connID, l.role, ws, l, l.logger)

	l.mu.Lock()
	l.conns[connID] = conn
	l.mu.Unlock()
	metrics.ConnectionsActive.WithLabelValues(string(l.role)).Inc()

	l.logger.Debug("Connection established",
		zap.String("connection_id", connID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	l.handler.HandleConnect(l.role, connID)

	welcome, _ := protocol.New(l.role.WelcomeType(), protocol.WelcomeContent{
		ConnectionID: connID,
		Version:      protocol.Version,
		Message:      "Connected to orchestrator",
	})
	if err := conn.Send(welcome); err != nil {
		l.logger.Warn("Failed to send welcome frame", zap.Error(err))
	}

	go conn.WritePump()
	go conn.ReadPump(context.Background())
}

// removeConn drops a closed connection and notifies the frame handler.
func (l *Listener) removeConn(conn *Conn) {
	l.mu.Lock()
	if _, ok := l.conns[conn.ID]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.conns, conn.ID)
	l.mu.Unlock()

	conn.close()
	metrics.ConnectionsActive.WithLabelValues(string(l.role)).Dec()

	l.logger.Debug("Connection closed", zap.String("connection_id", conn.ID))
	l.handler.HandleDisconnect(l.role, conn.ID)
}
