package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/metrics"
	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Conn represents a single peer WebSocket connection. The write side is
// single-writer: all outbound frames funnel through the send channel and
// WritePump.
type Conn struct {
	ID       string
	Role     Role
	ws       *websocket.Conn
	listener *Listener
	send     chan []byte
	closed   bool
	mu       sync.Mutex
	logger   *logger.Logger
}

func newConn(id string, role Role, ws *websocket.Conn, l *Listener, log *logger.Logger) *Conn {
	return &Conn{
		ID:       id,
		Role:     role,
		ws:       ws,
		listener: l,
		send:     make(chan []byte, 256),
		logger:   log.WithConnectionID(id),
	}
}

// Send stamps and enqueues an envelope. A full buffer or closed
// connection fails with UnavailablePeer; the caller treats that as a
// disconnect.
func (c *Conn) Send(msg *protocol.Message) error {
	msg.Stamp()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	// The closed check and the channel send stay under one lock so a
	// concurrent close cannot slip between them and close the channel
	// out from under the send.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.UnavailablePeer("connection " + c.ID + " is closed")
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		metrics.FramesSent.WithLabelValues(string(c.Role), msg.Type).Inc()
		return nil
	default:
		c.mu.Unlock()
		return apperrors.UnavailablePeer("send buffer full for connection " + c.ID)
	}
}

// SendError emits an error frame answering requestID.
func (c *Conn) SendError(requestID, code, errMsg string, details map[string]interface{}) {
	if err := c.Send(protocol.NewError(requestID, code, errMsg, details)); err != nil {
		c.logger.Warn("Failed to send error frame", zap.Error(err))
	}
}

// ReadPump drains inbound frames until the transport closes. Frames are
// dispatched to the listener's frame handler in receive order on this
// goroutine.
func (c *Conn) ReadPump(ctx context.Context) {
	defer func() {
		c.listener.removeConn(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Malformed frame", zap.Error(err))
			c.SendError("", apperrors.CodeInvalidMessage, "Invalid message format", nil)
			continue
		}
		if msg.Type == "" {
			c.SendError(msg.ID, apperrors.CodeInvalidMessage, "Message requires a type", nil)
			continue
		}

		metrics.FramesReceived.WithLabelValues(string(c.Role), msg.Type).Inc()
		c.listener.handler.HandleFrame(ctx, c.Role, c.ID, &msg)
	}
}

// WritePump serializes writes to the transport and keeps the peer alive
// with pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
