package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
)

// stdioClient correlates requests and responses over a subprocess's
// stdin/stdout. Responses are matched to pending requests by id; a
// response with no pending match is logged and dropped.
type stdioClient struct {
	stdin  io.Writer
	stdout io.Reader

	mu      sync.Mutex
	pending map[string]chan *response
	closed  bool

	logger *logger.Logger
	done   chan struct{}
}

func newStdioClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *stdioClient {
	return &stdioClient{
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[string]chan *response),
		logger:  log.WithFields(zap.String("component", "mcp-stdio")),
		done:    make(chan struct{}),
	}
}

// start begins draining stdout lines.
func (c *stdioClient) start() {
	go c.readLoop()
}

// call sends a request and waits for the matching response.
func (c *stdioClient) call(req *request, timeout time.Duration) (*response, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	respCh := make(chan *response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, apperrors.Shutdown()
	}
	c.pending[req.ID] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		return nil, apperrors.Timeout(fmt.Sprintf("no response to %s '%s' within %v", req.Type, req.ID, timeout))
	case <-c.done:
		return nil, apperrors.Shutdown()
	}
}

func (c *stdioClient) send(req *request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	c.logger.Debug("sent frame", zap.String("type", req.Type), zap.String("id", req.ID))
	return nil
}

func (c *stdioClient) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("Discarding non-JSON stdout line", zap.String("line", string(line)))
			continue
		}

		// Consume the pending entry at delivery: a duplicate id hits
		// the unknown-request path instead of blocking the loop on an
		// already-filled channel.
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("Response for unknown request", zap.String("id", resp.ID))
			continue
		}
		ch <- &resp
	}

	if err := scanner.Err(); err != nil {
		c.logger.Debug("stdout read loop ended", zap.Error(err))
	}
}

// shutdown fails every pending call and stops the read loop.
func (c *stdioClient) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}
