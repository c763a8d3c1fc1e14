package taskstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events/bus"
)

// Store is an in-memory task registry. One instance holds agent tasks,
// another holds service tasks; both enforce the forward-only status
// machine and serialize updates per store.
type Store struct {
	kind string // "task" or "servicetask"

	mu    sync.RWMutex
	tasks map[string]*Task

	bus    bus.EventBus
	logger *logger.Logger

	eventCreated string
	eventUpdated string
}

// NewAgentTaskStore creates the store for client- and agent-originated
// tasks.
func NewAgentTaskStore(eventBus bus.EventBus, log *logger.Logger) *Store {
	return &Store{
		kind:         "task",
		tasks:        make(map[string]*Task),
		bus:          eventBus,
		logger:       log.WithFields(zap.String("component", "task-store")),
		eventCreated: events.TaskCreated,
		eventUpdated: events.TaskUpdated,
	}
}

// NewServiceTaskStore creates the store for service invocations.
func NewServiceTaskStore(eventBus bus.EventBus, log *logger.Logger) *Store {
	return &Store{
		kind:         "servicetask",
		tasks:        make(map[string]*Task),
		bus:          eventBus,
		logger:       log.WithFields(zap.String("component", "servicetask-store")),
		eventCreated: events.ServiceTaskCreated,
		eventUpdated: events.ServiceTaskUpdated,
	}
}

// Create inserts a new task. A missing id is minted; status is forced to
// pending and timestamps are set. AgentID is required.
func (s *Store) Create(task *Task) (*Task, error) {
	if task.AgentID == "" {
		return nil, errors.InvalidMessage("task requires an agentId")
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	task.Status = StatusPending
	task.CreatedAt = now
	task.UpdatedAt = now
	task.Updates = []Update{{Status: StatusPending, Timestamp: now}}

	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return nil, errors.InvalidMessage("task id already exists: " + task.ID)
	}
	s.tasks[task.ID] = task
	snapshot := cloneTask(task)
	s.mu.Unlock()

	s.logger.Info("Task created",
		zap.String("task_id", snapshot.ID),
		zap.String("agent_id", snapshot.AgentID))

	s.publish(s.eventCreated, map[string]interface{}{
		"taskId":  snapshot.ID,
		"agentId": snapshot.AgentID,
		"status":  snapshot.Status,
	})
	return snapshot, nil
}

// Get returns the task with the given id.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errors.NotFound(s.kind, id)
	}
	return cloneTask(t), nil
}

// List returns the tasks matching the filter.
func (s *Store) List(filter Filter) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Task, 0)
	for _, t := range s.tasks {
		if filter.match(t) {
			result = append(result, cloneTask(t))
		}
	}
	return result
}

// UpdateStatus moves a task forward. Backward or repeat-terminal moves
// fail with IllegalTransition and leave the record unchanged. Details are
// merged into the record and appended to the update history.
func (s *Store) UpdateStatus(id, newStatus string, details Details) (*Task, error) {
	newRank, known := statusRank[newStatus]
	if !known {
		return nil, errors.InvalidMessage("unknown task status: " + newStatus)
	}

	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NotFound(s.kind, id)
	}

	oldStatus := task.Status
	if newRank <= statusRank[oldStatus] {
		s.mu.Unlock()
		return nil, errors.IllegalTransition(id, oldStatus, newStatus)
	}

	now := time.Now().UTC()
	task.Status = newStatus
	task.UpdatedAt = now
	s.merge(task, details)
	task.Updates = append(task.Updates, Update{
		Status:    newStatus,
		Message:   details.Message,
		Data:      details.Data,
		Timestamp: now,
	})

	snapshot := cloneTask(task)
	s.mu.Unlock()

	s.logger.Debug("Task status updated",
		zap.String("task_id", id),
		zap.String("from", oldStatus),
		zap.String("to", newStatus))

	s.publish(s.eventUpdated, map[string]interface{}{
		"taskId":    id,
		"oldStatus": oldStatus,
		"newStatus": newStatus,
	})
	return snapshot, nil
}

// AppendUpdate records a non-status update (e.g. a late notification).
// The update history may grow after a terminal status; the status itself
// does not change.
func (s *Store) AppendUpdate(id string, details Details) (*Task, error) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NotFound(s.kind, id)
	}

	now := time.Now().UTC()
	task.UpdatedAt = now
	s.merge(task, details)
	task.Updates = append(task.Updates, Update{
		Message:   details.Message,
		Data:      details.Data,
		Timestamp: now,
	})

	snapshot := cloneTask(task)
	s.mu.Unlock()
	return snapshot, nil
}

// merge applies details to a task. Caller holds the write lock.
func (s *Store) merge(task *Task, details Details) {
	if details.Result != nil {
		task.Result = details.Result
	}
	if details.Error != "" {
		task.Error = details.Error
	}
	if details.Metadata != nil {
		if task.Metadata == nil {
			task.Metadata = make(map[string]interface{})
		}
		for k, v := range details.Metadata {
			task.Metadata[k] = v
		}
	}
}

func (s *Store) publish(eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	event := bus.NewEvent(eventType, events.SourceTaskStore, data)
	if err := s.bus.Publish(context.Background(), eventType, event); err != nil {
		s.logger.Warn("Failed to publish task event", zap.Error(err))
	}
}
