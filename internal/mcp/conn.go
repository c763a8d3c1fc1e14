package mcp

import (
	"bufio"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
)

// Connection states. A connection moves strictly forward:
// spawning -> initializing -> ready -> closing -> gone.
const (
	connSpawning     = "spawning"
	connInitializing = "initializing"
	connReady        = "ready"
	connClosing      = "closing"
	connGone         = "gone"
)

// Connection is a live subprocess speaking the stdio protocol. One
// Connection maps to exactly one process.
type Connection struct {
	ID       string
	ServerID string

	cmd    *exec.Cmd
	client *stdioClient
	tools  []Tool

	mu    sync.Mutex
	state string

	onExit func(connID string)
	logger *logger.Logger
}

// spawn launches the subprocess and starts the stdio pumps. The command
// runs with cwd set to the directory of the server's path when one is
// configured.
func spawn(server *Server, log *logger.Logger, onExit func(connID string)) (*Connection, error) {
	name, args, err := launchCommand(server)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		ID:       uuid.New().String(),
		ServerID: server.ID,
		state:    connSpawning,
		onExit:   onExit,
		logger: log.WithFields(
			zap.String("component", "mcp-connection"),
			zap.String("server_id", server.ID),
			zap.String("server_name", server.Name)),
	}

	cmd := exec.Command(name, args...)
	if server.Path != "" {
		cmd.Dir = filepath.Dir(server.Path)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}

	conn.cmd = cmd
	conn.client = newStdioClient(stdin, stdout, conn.logger)
	conn.client.start()

	// stderr is logged verbatim, never parsed as protocol.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			conn.logger.Info("mcp stderr", zap.String("line", scanner.Text()))
		}
	}()

	go conn.waitExit()

	conn.logger.Info("MCP subprocess spawned",
		zap.String("command", name),
		zap.Int("pid", cmd.Process.Pid))
	return conn, nil
}

// launchCommand picks the launch convention: explicit command+args, else
// by server type.
func launchCommand(server *Server) (string, []string, error) {
	if server.Command != "" {
		return server.Command, server.Args, nil
	}
	switch server.Type {
	case ServerTypePython:
		return "python", []string{server.Path}, nil
	case ServerTypeNode:
		return "node", []string{server.Path}, nil
	default:
		return "", nil, fmt.Errorf("no launch convention for server type %q", server.Type)
	}
}

// initialize performs the handshake and caches the tool set.
func (c *Connection) initialize() error {
	c.setState(connInitializing)

	if _, err := c.client.call(&request{Type: requestInitialize, Version: ProtocolVersion}, initializeTimeout); err != nil {
		return fmt.Errorf("initialize handshake: %w", err)
	}

	resp, err := c.client.call(&request{Type: requestListTools}, initializeTimeout)
	if err != nil {
		return fmt.Errorf("list_tools: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("list_tools: %s", resp.Error)
	}

	c.mu.Lock()
	c.tools = resp.Tools
	c.state = connReady
	c.mu.Unlock()
	return nil
}

// Tools returns the cached tool set.
func (c *Connection) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tool(nil), c.tools...)
}

// State returns the connection state.
func (c *Connection) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// execute runs one tool call over the stdio dialog.
func (c *Connection) execute(toolName string, args map[string]interface{}, timeout time.Duration) (*ToolResult, error) {
	if timeout <= 0 {
		timeout = toolCallTimeout
	}
	resp, err := c.client.call(&request{
		Type: requestToolCall,
		Tool: &toolCall{Name: toolName, Args: args},
	}, timeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("tool %s: %s", toolName, resp.Error)
	}
	return &ToolResult{Result: resp.Result, Metadata: resp.Metadata}, nil
}

// stop sends a best-effort shutdown frame, then kills the process.
func (c *Connection) stop() {
	c.setState(connClosing)

	done := make(chan struct{})
	go func() {
		_, _ = c.client.call(&request{Type: requestShutdown}, shutdownTimeout)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
	}

	c.client.shutdown()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

// waitExit reaps the process and fails pending calls when it dies.
func (c *Connection) waitExit() {
	err := c.cmd.Wait()

	c.mu.Lock()
	alreadyClosing := c.state == connClosing || c.state == connGone
	c.state = connGone
	c.mu.Unlock()

	c.client.shutdown()

	if !alreadyClosing {
		c.logger.Warn("MCP subprocess exited unexpectedly", zap.Error(err))
	} else {
		c.logger.Debug("MCP subprocess exited", zap.Error(err))
	}

	if c.onExit != nil {
		c.onExit(c.ID)
	}
}
