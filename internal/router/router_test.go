package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/correlator"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events/bus"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/gateway"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/mcp"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/registry"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/taskstore"
	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

// capturedError is one error frame recorded by a fake sender.
type capturedError struct {
	ConnID    string
	RequestID string
	Code      string
	Message   string
}

// fakeSender records outbound frames per connection instead of writing
// to a websocket.
type fakeSender struct {
	mu     sync.Mutex
	frames map[string][]*protocol.Message
	errors []capturedError
	closed map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		frames: make(map[string][]*protocol.Message),
		closed: make(map[string]bool),
	}
}

func (f *fakeSender) Send(connID string, msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed[connID] {
		return apperrors.UnavailablePeer("connection closed")
	}
	msg.Stamp()
	f.frames[connID] = append(f.frames[connID], msg)
	return nil
}

func (f *fakeSender) SendError(connID, requestID, code, errMsg string, details map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, capturedError{ConnID: connID, RequestID: requestID, Code: code, Message: errMsg})
}

func (f *fakeSender) close(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[connID] = true
}

func (f *fakeSender) framesOf(connID, msgType string) []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Message
	for _, m := range f.frames[connID] {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) lastOf(connID, msgType string) *protocol.Message {
	matches := f.framesOf(connID, msgType)
	if len(matches) == 0 {
		return nil
	}
	return matches[len(matches)-1]
}

// waitFor polls until the frame shows up; the correlator paths respond
// from another goroutine.
func (f *fakeSender) waitFor(t *testing.T, connID, msgType string) *protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m := f.lastOf(connID, msgType); m != nil {
			return m
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s on %s", msgType, connID)
	return nil
}

func (f *fakeSender) lastError() *capturedError {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errors) == 0 {
		return nil
	}
	e := f.errors[len(f.errors)-1]
	return &e
}

type routerFixture struct {
	router   *Router
	agents   *fakeSender
	clients  *fakeSender
	services *fakeSender
	tasks    *taskstore.Store
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	agentsReg := registry.NewPeerRegistry("agent", eventBus, log,
		events.AgentConnected, events.AgentRegistered, events.AgentDisconnected)
	servicesReg := registry.NewPeerRegistry("service", eventBus, log,
		events.ServiceConnected, events.ServiceRegistered, events.ServiceDisconnected)
	clientsReg := registry.NewClientRegistry(eventBus, log)
	tasks := taskstore.NewAgentTaskStore(eventBus, log)
	serviceTasks := taskstore.NewServiceTaskStore(eventBus, log)

	r := New(Deps{
		Agents:       agentsReg,
		Services:     servicesReg,
		Clients:      clientsReg,
		Tasks:        tasks,
		ServiceTasks: serviceTasks,
		Correlator:   correlator.New(log),
		Supervisor:   mcp.NewSupervisor(eventBus, log),
		Bus:          eventBus,
		Logger:       log,
	})

	fx := &routerFixture{
		router:   r,
		agents:   newFakeSender(),
		clients:  newFakeSender(),
		services: newFakeSender(),
		tasks:    tasks,
	}
	r.SetSender(gateway.RoleAgent, fx.agents)
	r.SetSender(gateway.RoleClient, fx.clients)
	r.SetSender(gateway.RoleService, fx.services)
	return fx
}

func frame(t *testing.T, msgType string, content interface{}) *protocol.Message {
	t.Helper()
	msg, err := protocol.New(msgType, content)
	require.NoError(t, err)
	return msg
}

func (fx *routerFixture) dispatch(role gateway.Role, connID string, msg *protocol.Message) {
	fx.router.HandleFrame(context.Background(), role, connID, msg)
}

// registerAgent walks a connection through connect + register and
// returns the assigned agent id.
func (fx *routerFixture) registerAgent(t *testing.T, connID, name string, capabilities ...string) string {
	t.Helper()
	fx.router.HandleConnect(gateway.RoleAgent, connID)
	msg := frame(t, protocol.TypeAgentRegister, protocol.RegisterContent{Name: name, Capabilities: capabilities})
	fx.dispatch(gateway.RoleAgent, connID, msg)

	reply := fx.agents.lastOf(connID, protocol.TypeAgentRegistered)
	require.NotNil(t, reply, "expected agent.registered")
	var registered protocol.RegisteredContent
	require.NoError(t, reply.ParseContent(&registered))
	return registered.ID
}

func (fx *routerFixture) registerService(t *testing.T, connID, name string, capabilities ...string) string {
	t.Helper()
	fx.router.HandleConnect(gateway.RoleService, connID)
	msg := frame(t, protocol.TypeServiceRegister, protocol.RegisterContent{Name: name, Capabilities: capabilities})
	fx.dispatch(gateway.RoleService, connID, msg)

	reply := fx.services.lastOf(connID, protocol.TypeServiceRegistered)
	require.NotNil(t, reply, "expected service.registered")
	var registered protocol.RegisteredContent
	require.NoError(t, reply.ParseContent(&registered))
	return registered.ID
}

func (fx *routerFixture) connectClient(connID string) {
	fx.router.HandleConnect(gateway.RoleClient, connID)
}

func TestAgentRegistration(t *testing.T) {
	fx := newRouterFixture(t)
	fx.router.HandleConnect(gateway.RoleAgent, "conn-a")

	msg := frame(t, protocol.TypeAgentRegister, protocol.RegisterContent{Name: "coder", Capabilities: []string{"code"}})
	fx.dispatch(gateway.RoleAgent, "conn-a", msg)

	reply := fx.agents.lastOf("conn-a", protocol.TypeAgentRegistered)
	require.NotNil(t, reply)
	assert.Equal(t, msg.ID, reply.RequestID, "reply must correlate to the request")

	var registered protocol.RegisteredContent
	require.NoError(t, reply.ParseContent(&registered))
	assert.NotEmpty(t, registered.ID)
	assert.Equal(t, "coder", registered.Name)
	assert.Equal(t, registry.StatusOnline, registered.Status)
}

func TestAgentRegistrationWithoutConnect(t *testing.T) {
	fx := newRouterFixture(t)

	msg := frame(t, protocol.TypeAgentRegister, protocol.RegisterContent{Name: "ghost"})
	fx.dispatch(gateway.RoleAgent, "conn-never", msg)

	errFrame := fx.agents.lastError()
	require.NotNil(t, errFrame)
	assert.Equal(t, apperrors.CodeUnknownConnection, errFrame.Code)
}

func TestTaskLifecycle(t *testing.T) {
	fx := newRouterFixture(t)
	agentID := fx.registerAgent(t, "conn-a", "coder")
	fx.connectClient("conn-c")

	create := frame(t, protocol.TypeClientTaskCreate, protocol.TaskCreateContent{
		AgentName: "coder",
		TaskType:  "build",
		TaskData:  map[string]interface{}{"target": "all"},
	})
	fx.dispatch(gateway.RoleClient, "conn-c", create)

	// Client gets the immediate acknowledgement.
	created := fx.clients.lastOf("conn-c", protocol.TypeTaskCreated)
	require.NotNil(t, created)
	assert.Equal(t, create.ID, created.RequestID)
	var ack struct {
		TaskID  string `json:"taskId"`
		AgentID string `json:"agentId"`
		Status  string `json:"status"`
	}
	require.NoError(t, created.ParseContent(&ack))
	assert.Equal(t, agentID, ack.AgentID)
	assert.Equal(t, taskstore.StatusPending, ack.Status)

	// Agent gets task.execute and the task is in progress.
	execute := fx.agents.lastOf("conn-a", protocol.TypeTaskExecute)
	require.NotNil(t, execute)
	var executeContent protocol.TaskExecuteContent
	require.NoError(t, execute.ParseContent(&executeContent))
	assert.Equal(t, ack.TaskID, executeContent.TaskID)
	assert.Equal(t, "build", executeContent.TaskType)

	task, err := fx.tasks.Get(ack.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusInProgress, task.Status)

	// Agent completes the task.
	fx.dispatch(gateway.RoleAgent, "conn-a", frame(t, protocol.TypeTaskResult, protocol.TaskOutcomeContent{
		TaskID: ack.TaskID,
		Result: map[string]interface{}{"artifacts": 3},
	}))

	// Client sees the status flip, then the standalone result.
	statusFrame := fx.clients.lastOf("conn-c", protocol.TypeTaskStatus)
	require.NotNil(t, statusFrame)
	resultFrame := fx.clients.lastOf("conn-c", protocol.TypeTaskResult)
	require.NotNil(t, resultFrame)
	assert.True(t, statusFrame.Timestamp.Before(resultFrame.Timestamp) || statusFrame.Timestamp.Equal(resultFrame.Timestamp))

	task, err = fx.tasks.Get(ack.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusCompleted, task.Status)

	// A second terminal report is rejected.
	fx.dispatch(gateway.RoleAgent, "conn-a", frame(t, protocol.TypeTaskError, protocol.TaskOutcomeContent{
		TaskID: ack.TaskID,
		Error:  "late failure",
	}))
	errFrame := fx.agents.lastError()
	require.NotNil(t, errFrame)
	assert.Equal(t, apperrors.CodeIllegalTransition, errFrame.Code)
}

func TestTaskCreateUnknownAgent(t *testing.T) {
	fx := newRouterFixture(t)
	fx.connectClient("conn-c")

	create := frame(t, protocol.TypeClientTaskCreate, protocol.TaskCreateContent{AgentName: "nobody"})
	fx.dispatch(gateway.RoleClient, "conn-c", create)

	errFrame := fx.clients.lastError()
	require.NotNil(t, errFrame)
	assert.Equal(t, apperrors.CodeNotFound, errFrame.Code)
	assert.Equal(t, create.ID, errFrame.RequestID)
}

func TestTaskCreateOfflineAgentFailsTask(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registerAgent(t, "conn-a", "coder")
	fx.router.HandleDisconnect(gateway.RoleAgent, "conn-a")
	fx.connectClient("conn-c")

	create := frame(t, protocol.TypeClientTaskCreate, protocol.TaskCreateContent{AgentName: "coder"})
	fx.dispatch(gateway.RoleClient, "conn-c", create)

	// The task is acknowledged first, then failed on dispatch.
	created := fx.clients.lastOf("conn-c", protocol.TypeTaskCreated)
	require.NotNil(t, created)
	var ack struct {
		TaskID string `json:"taskId"`
	}
	require.NoError(t, created.ParseContent(&ack))

	errNotice := fx.clients.lastOf("conn-c", protocol.TypeTaskError)
	require.NotNil(t, errNotice)
	var failure struct {
		TaskID string `json:"taskId"`
		Error  string `json:"error"`
	}
	require.NoError(t, errNotice.ParseContent(&failure))
	assert.Equal(t, ack.TaskID, failure.TaskID)
	assert.Equal(t, "Agent connection not found", failure.Error)

	task, err := fx.tasks.Get(ack.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusFailed, task.Status)
}

func TestTaskDelegation(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registerAgent(t, "conn-lead", "lead")
	fx.registerAgent(t, "conn-worker", "worker")

	request := frame(t, protocol.TypeAgentTaskRequest, protocol.AgentTaskRequestContent{
		TargetAgentName: "worker",
		TaskType:        "subtask",
		TaskData:        map[string]interface{}{"step": 1},
	})
	fx.dispatch(gateway.RoleAgent, "conn-lead", request)

	accepted := fx.agents.lastOf("conn-lead", protocol.TypeChildAgentAccepted)
	require.NotNil(t, accepted)
	assert.Equal(t, request.ID, accepted.RequestID)
	var acceptContent struct {
		ChildTaskID string `json:"childTaskId"`
	}
	require.NoError(t, accepted.ParseContent(&acceptContent))

	execute := fx.agents.lastOf("conn-worker", protocol.TypeTaskExecute)
	require.NotNil(t, execute)

	// Worker reports the result; the lead gets a childagent.response.
	fx.dispatch(gateway.RoleAgent, "conn-worker", frame(t, protocol.TypeTaskResult, protocol.TaskOutcomeContent{
		TaskID: acceptContent.ChildTaskID,
		Result: "done",
	}))

	response := fx.agents.lastOf("conn-lead", protocol.TypeChildAgentResponse)
	require.NotNil(t, response)
	var respContent struct {
		ChildTaskID string `json:"childTaskId"`
		Status      string `json:"status"`
	}
	require.NoError(t, response.ParseContent(&respContent))
	assert.Equal(t, acceptContent.ChildTaskID, respContent.ChildTaskID)
	assert.Equal(t, taskstore.StatusCompleted, respContent.Status)
}

func TestAgentDisconnectFailsOpenTasks(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registerAgent(t, "conn-a", "coder")
	fx.connectClient("conn-c")

	create := frame(t, protocol.TypeClientTaskCreateAlias, protocol.TaskCreateContent{AgentName: "coder"})
	fx.dispatch(gateway.RoleClient, "conn-c", create)
	created := fx.clients.lastOf("conn-c", protocol.TypeTaskCreated)
	require.NotNil(t, created)
	var ack struct {
		TaskID string `json:"taskId"`
	}
	require.NoError(t, created.ParseContent(&ack))

	fx.router.HandleDisconnect(gateway.RoleAgent, "conn-a")

	task, err := fx.tasks.Get(ack.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusFailed, task.Status)
	assert.Equal(t, "Agent disconnected", task.Error)

	errNotice := fx.clients.lastOf("conn-c", protocol.TypeTaskError)
	require.NotNil(t, errNotice)
}

func TestServiceInvocation(t *testing.T) {
	fx := newRouterFixture(t)
	serviceID := fx.registerService(t, "conn-s", "database")
	fx.registerAgent(t, "conn-a", "coder")
	fx.connectClient("conn-c")
	clientID := "conn-c" // client id doubles as connection id

	invoke := frame(t, protocol.TypeServiceTaskExecute, protocol.ServiceTaskExecuteContent{
		ServiceID: serviceID,
		ToolName:  "query",
		Params:    map[string]interface{}{"sql": "select 1"},
		ClientID:  clientID,
	})
	fx.dispatch(gateway.RoleAgent, "conn-a", invoke)

	// Client observes the start, the service gets the dispatch, the
	// agent gets the acceptance.
	started := fx.clients.lastOf("conn-c", protocol.TypeServiceStarted)
	require.NotNil(t, started)

	dispatched := fx.services.lastOf("conn-s", protocol.TypeServiceTaskExecute)
	require.NotNil(t, dispatched)
	var dispatchContent protocol.ServiceTaskExecuteContent
	require.NoError(t, dispatched.ParseContent(&dispatchContent))
	assert.NotEmpty(t, dispatchContent.TaskID)
	assert.Equal(t, "query", dispatchContent.ToolName)

	accepted := fx.agents.lastOf("conn-a", protocol.TypeServiceRequestAccepted)
	require.NotNil(t, accepted)
	assert.Equal(t, invoke.ID, accepted.RequestID)

	// Service completes the task.
	fx.dispatch(gateway.RoleService, "conn-s", frame(t, protocol.TypeServiceTaskResult, protocol.TaskOutcomeContent{
		TaskID: dispatchContent.TaskID,
		Result: map[string]interface{}{"rows": 1},
	}))

	completed := fx.clients.lastOf("conn-c", protocol.TypeServiceCompleted)
	require.NotNil(t, completed)
	response := fx.agents.lastOf("conn-a", protocol.TypeServiceResponse)
	require.NotNil(t, response)
	var respContent struct {
		ServiceTaskID string `json:"serviceTaskId"`
		Status        string `json:"status"`
	}
	require.NoError(t, response.ParseContent(&respContent))
	assert.Equal(t, dispatchContent.TaskID, respContent.ServiceTaskID)
	assert.Equal(t, taskstore.StatusCompleted, respContent.Status)
}

func TestServiceInvocationOfflineService(t *testing.T) {
	fx := newRouterFixture(t)
	serviceID := fx.registerService(t, "conn-s", "database")
	fx.router.HandleDisconnect(gateway.RoleService, "conn-s")
	fx.registerAgent(t, "conn-a", "coder")

	invoke := frame(t, protocol.TypeServiceTaskExecute, protocol.ServiceTaskExecuteContent{
		ServiceID: serviceID,
		ToolName:  "query",
	})
	fx.dispatch(gateway.RoleAgent, "conn-a", invoke)

	errFrame := fx.agents.lastError()
	require.NotNil(t, errFrame)
	assert.Equal(t, apperrors.CodeUnavailablePeer, errFrame.Code)
}

func TestServiceToolsListForwarding(t *testing.T) {
	fx := newRouterFixture(t)
	serviceID := fx.registerService(t, "conn-s", "database")
	fx.registerAgent(t, "conn-a", "coder")

	// The await blocks, so drive the request from a goroutine and
	// answer as the service.
	done := make(chan struct{})
	listReq := frame(t, protocol.TypeServiceToolsList, protocol.ServiceTaskExecuteContent{ServiceID: serviceID, ToolName: "-"})
	go func() {
		defer close(done)
		fx.dispatch(gateway.RoleAgent, "conn-a", listReq)
	}()

	forwarded := fx.services.waitFor(t, "conn-s", protocol.TypeServiceToolsList)
	reply, err := protocol.NewReply(forwarded.ID, protocol.TypeServiceResponse, map[string]interface{}{
		"tools": []string{"query", "insert"},
	})
	require.NoError(t, err)
	fx.dispatch(gateway.RoleService, "conn-s", reply)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Tool listing did not complete")
	}

	relayed := fx.agents.lastOf("conn-a", protocol.TypeServiceResponse)
	require.NotNil(t, relayed)
	assert.Equal(t, listReq.ID, relayed.RequestID)
	var relayContent struct {
		Tools []string `json:"tools"`
	}
	require.NoError(t, relayed.ParseContent(&relayContent))
	assert.Equal(t, []string{"query", "insert"}, relayContent.Tools)
}

func TestNameCollisionEviction(t *testing.T) {
	fx := newRouterFixture(t)
	firstID := fx.registerAgent(t, "conn-1", "coder")
	secondID := fx.registerAgent(t, "conn-2", "coder")
	require.NotEqual(t, firstID, secondID)

	// Directory from the client endpoint reflects the eviction.
	fx.connectClient("conn-c")
	query := frame(t, protocol.TypeClientAgentListRequest, protocol.ListFilter{Status: registry.StatusOnline})
	fx.dispatch(gateway.RoleClient, "conn-c", query)

	listing := fx.clients.lastOf("conn-c", protocol.TypeAgentList)
	require.NotNil(t, listing)
	var dir struct {
		Agents []registry.Peer `json:"agents"`
		Count  int             `json:"count"`
	}
	require.NoError(t, listing.ParseContent(&dir))
	require.Equal(t, 1, dir.Count)
	assert.Equal(t, secondID, dir.Agents[0].ID)
}

func TestPingPong(t *testing.T) {
	fx := newRouterFixture(t)
	fx.connectClient("conn-c")

	ping := frame(t, protocol.TypePing, protocol.PingContent{Timestamp: "2026-01-01T00:00:00Z"})
	fx.dispatch(gateway.RoleClient, "conn-c", ping)

	pong := fx.clients.lastOf("conn-c", protocol.TypePong)
	require.NotNil(t, pong)
	assert.Equal(t, ping.ID, pong.RequestID)
	var content protocol.PongContent
	require.NoError(t, pong.ParseContent(&content))
	assert.NotEmpty(t, content.Timestamp)
}

func TestPingPongTimestampNeverRegresses(t *testing.T) {
	fx := newRouterFixture(t)
	fx.connectClient("conn-c")

	// A peer clock running ahead of the hub must not be answered with
	// an earlier timestamp.
	ahead := time.Now().UTC().Add(2 * time.Second)
	ping := frame(t, protocol.TypePing, protocol.PingContent{
		Timestamp: ahead.Format(time.RFC3339Nano),
	})
	fx.dispatch(gateway.RoleClient, "conn-c", ping)

	pong := fx.clients.lastOf("conn-c", protocol.TypePong)
	require.NotNil(t, pong)
	var content protocol.PongContent
	require.NoError(t, pong.ParseContent(&content))

	got, err := time.Parse(time.RFC3339Nano, content.Timestamp)
	require.NoError(t, err)
	assert.False(t, got.Before(ahead),
		"pong timestamp %s is earlier than the ping timestamp %s", got, ahead)

	// A stale or unparsable peer timestamp falls back to the hub clock.
	before := time.Now().UTC()
	fx.dispatch(gateway.RoleClient, "conn-c", frame(t, protocol.TypePing, protocol.PingContent{
		Timestamp: "1999-01-01T00:00:00Z",
	}))
	pong = fx.clients.lastOf("conn-c", protocol.TypePong)
	require.NotNil(t, pong)
	require.NoError(t, pong.ParseContent(&content))
	got, err = time.Parse(time.RFC3339Nano, content.Timestamp)
	require.NoError(t, err)
	assert.False(t, got.Before(before))
}

func TestUnknownMessageType(t *testing.T) {
	fx := newRouterFixture(t)
	fx.connectClient("conn-c")

	fx.dispatch(gateway.RoleClient, "conn-c", frame(t, "no.such.type", nil))

	errFrame := fx.clients.lastError()
	require.NotNil(t, errFrame)
	assert.Equal(t, apperrors.CodeUnsupportedMessageType, errFrame.Code)
}

func TestClientMessageBroadcast(t *testing.T) {
	fx := newRouterFixture(t)
	fx.connectClient("conn-1")
	fx.connectClient("conn-2")

	msg := frame(t, protocol.TypeClientMessage, map[string]interface{}{"message": "hello"})
	fx.dispatch(gateway.RoleClient, "conn-1", msg)

	// Both clients receive the broadcast; the sender also gets an ack.
	require.NotNil(t, fx.clients.lastOf("conn-2", protocol.TypeSystemNotification))
	require.NotNil(t, fx.clients.lastOf("conn-1", protocol.TypeSystemNotification))
	ack := fx.clients.lastOf("conn-1", protocol.TypeMessageSent)
	require.NotNil(t, ack)
	assert.Equal(t, msg.ID, ack.RequestID)
}

func TestAgentStatusUpdateNotifiesClients(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registerAgent(t, "conn-a", "coder")
	fx.connectClient("conn-c")

	fx.dispatch(gateway.RoleAgent, "conn-a", frame(t, protocol.TypeAgentStatusUpdate, protocol.StatusUpdateContent{
		Status:  "busy",
		Details: map[string]interface{}{"queue": 3},
	}))

	notice := fx.clients.lastOf("conn-c", protocol.TypeSystemNotification)
	require.NotNil(t, notice)
	var content struct {
		Event  string `json:"event"`
		Status string `json:"status"`
	}
	require.NoError(t, notice.ParseContent(&content))
	assert.Equal(t, "agent.status", content.Event)
	assert.Equal(t, "busy", content.Status)
}

func TestClientTaskStatusSnapshot(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registerAgent(t, "conn-a", "coder")
	fx.connectClient("conn-c")

	create := frame(t, protocol.TypeClientTaskCreate, protocol.TaskCreateContent{AgentName: "coder"})
	fx.dispatch(gateway.RoleClient, "conn-c", create)
	created := fx.clients.lastOf("conn-c", protocol.TypeTaskCreated)
	require.NotNil(t, created)
	var ack struct {
		TaskID string `json:"taskId"`
	}
	require.NoError(t, created.ParseContent(&ack))

	query := frame(t, protocol.TypeClientTaskStatusRequest, protocol.TaskOutcomeContent{TaskID: ack.TaskID})
	fx.dispatch(gateway.RoleClient, "conn-c", query)

	snapshot := fx.clients.lastOf("conn-c", protocol.TypeTaskStatus)
	require.NotNil(t, snapshot)
	assert.Equal(t, query.ID, snapshot.RequestID)
	var status struct {
		TaskID      string `json:"taskId"`
		Status      string `json:"status"`
		UpdateCount int    `json:"updateCount"`
	}
	require.NoError(t, snapshot.ParseContent(&status))
	assert.Equal(t, ack.TaskID, status.TaskID)
	assert.Equal(t, taskstore.StatusInProgress, status.Status)
	assert.Equal(t, 2, status.UpdateCount)
}

func TestTaskMessageRelay(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registerAgent(t, "conn-a", "coder")
	fx.connectClient("conn-c")

	create := frame(t, protocol.TypeClientTaskCreate, protocol.TaskCreateContent{AgentName: "coder"})
	fx.dispatch(gateway.RoleClient, "conn-c", create)
	created := fx.clients.lastOf("conn-c", protocol.TypeTaskCreated)
	require.NotNil(t, created)
	var ack struct {
		TaskID string `json:"taskId"`
	}
	require.NoError(t, created.ParseContent(&ack))

	note := frame(t, protocol.TypeTaskMessage, protocol.TaskMessageContent{TaskID: ack.TaskID, Message: "more context"})
	fx.dispatch(gateway.RoleClient, "conn-c", note)

	relayed := fx.agents.lastOf("conn-a", protocol.TypeTaskMessageResponse)
	require.NotNil(t, relayed)
	sent := fx.clients.lastOf("conn-c", protocol.TypeMessageSent)
	require.NotNil(t, sent)
	assert.Equal(t, note.ID, sent.RequestID)

	// With the agent gone the relay surfaces an error instead.
	fx.router.HandleDisconnect(gateway.RoleAgent, "conn-a")
	fx.dispatch(gateway.RoleClient, "conn-c", frame(t, protocol.TypeTaskMessage, protocol.TaskMessageContent{TaskID: ack.TaskID, Message: "anyone?"}))
	errFrame := fx.clients.lastError()
	require.NotNil(t, errFrame)
	assert.Equal(t, apperrors.CodeUnavailablePeer, errFrame.Code)
}

func TestTaskNotificationForwarding(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registerAgent(t, "conn-a", "coder")
	fx.connectClient("conn-c")

	create := frame(t, protocol.TypeClientTaskCreate, protocol.TaskCreateContent{AgentName: "coder"})
	fx.dispatch(gateway.RoleClient, "conn-c", create)
	created := fx.clients.lastOf("conn-c", protocol.TypeTaskCreated)
	require.NotNil(t, created)
	var ack struct {
		TaskID string `json:"taskId"`
	}
	require.NoError(t, created.ParseContent(&ack))

	notify := frame(t, protocol.TypeTaskNotification, protocol.NotificationContent{
		TaskID:  ack.TaskID,
		Message: "halfway there",
	})
	fx.dispatch(gateway.RoleAgent, "conn-a", notify)

	forwarded := fx.clients.lastOf("conn-c", protocol.TypeTaskNotification)
	require.NotNil(t, forwarded)
	var content protocol.NotificationContent
	require.NoError(t, forwarded.ParseContent(&content))
	assert.Equal(t, "halfway there", content.Message)
	assert.Equal(t, "coder", content.AgentName, "notification is enriched with the sender identity")

	received := fx.agents.lastOf("conn-a", protocol.TypeNotificationReceived)
	require.NotNil(t, received)
	assert.Equal(t, notify.ID, received.RequestID)

	// Status must be untouched, history must have grown.
	task, err := fx.tasks.Get(ack.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusInProgress, task.Status)
	assert.Len(t, task.Updates, 3)
}

func TestClientListDirectory(t *testing.T) {
	fx := newRouterFixture(t)
	fx.connectClient("conn-1")
	fx.connectClient("conn-2")
	fx.router.HandleDisconnect(gateway.RoleClient, "conn-2")

	query := frame(t, protocol.TypeClientList, protocol.ListFilter{Status: registry.StatusOnline})
	fx.dispatch(gateway.RoleClient, "conn-1", query)

	listing := fx.clients.lastOf("conn-1", protocol.TypeClientListResponse)
	require.NotNil(t, listing)
	var dir struct {
		Count int `json:"count"`
	}
	require.NoError(t, listing.ParseContent(&dir))
	assert.Equal(t, 1, dir.Count)
}

func TestCorrelatedReplyBypassesDispatch(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registerService(t, "conn-s", "database")

	// A frame answering nothing falls through to normal dispatch and,
	// having an unknown type, produces an error.
	stray := frame(t, "service.task.result.custom", nil)
	stray.RequestID = "not-pending"
	fx.dispatch(gateway.RoleService, "conn-s", stray)
	require.NotNil(t, fx.services.lastError())
}
