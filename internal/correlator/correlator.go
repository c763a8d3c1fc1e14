// Package correlator tracks outstanding request/reply pairs across the
// orchestrator's peer connections and MCP subprocesses. Each pending
// request is keyed by the outgoing envelope id and resolved exactly once:
// by a matching reply, a timeout, or shutdown.
package correlator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

// DefaultTimeout bounds a send-and-await when the caller does not supply
// a deadline.
const DefaultTimeout = 30 * time.Second

// Filter narrows which reply resolves a pending request. A nil filter
// accepts the first frame whose requestId matches.
type Filter func(*protocol.Message) bool

// TypeFilter accepts only replies of the given envelope type.
func TypeFilter(msgType string) Filter {
	return func(m *protocol.Message) bool {
		return m.Type == msgType
	}
}

type pendingRequest struct {
	ch     chan *protocol.Message
	filter Filter
}

// Correlator is the pending-request table.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
	logger  *logger.Logger
}

// New creates an empty correlator.
func New(log *logger.Logger) *Correlator {
	return &Correlator{
		pending: make(map[string]*pendingRequest),
		logger:  log.WithFields(zap.String("component", "correlator")),
	}
}

// SendAndAwait stamps the envelope, registers a pending request keyed by
// its id, emits it through send, and blocks until a matching reply,
// the timeout, context cancellation, or shutdown.
func (c *Correlator) SendAndAwait(ctx context.Context, send func(*protocol.Message) error, msg *protocol.Message, timeout time.Duration, filter Filter) (*protocol.Message, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	msg.Stamp()

	req := &pendingRequest{
		ch:     make(chan *protocol.Message, 1),
		filter: filter,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.Shutdown()
	}
	c.pending[msg.ID] = req
	c.mu.Unlock()

	defer c.remove(msg.ID)

	if err := send(msg); err != nil {
		return nil, errors.UnavailablePeer("failed to send request: " + err.Error())
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply, ok := <-req.ch:
		if !ok {
			return nil, errors.Shutdown()
		}
		return reply, nil
	case <-timer.C:
		return nil, errors.Timeout("no reply to " + msg.ID + " within " + timeout.String())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve offers an inbound frame to the table. It returns true when the
// frame answered a pending request and was consumed; frames with no
// pending match (including late replies after a timeout) are left for
// other subscribers.
func (c *Correlator) Resolve(msg *protocol.Message) bool {
	if msg.RequestID == "" {
		return false
	}

	c.mu.Lock()
	req, ok := c.pending[msg.RequestID]
	if ok && req.filter != nil && !req.filter(msg) {
		ok = false
	}
	if ok {
		delete(c.pending, msg.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	req.ch <- msg
	return true
}

// PendingCount returns the number of outstanding requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Shutdown fails every outstanding request and rejects new ones.
func (c *Correlator) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for id, req := range pending {
		close(req.ch)
		c.logger.Debug("Pending request failed on shutdown", zap.String("request_id", id))
	}
}

func (c *Correlator) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
