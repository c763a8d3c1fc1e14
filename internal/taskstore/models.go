// Package taskstore owns the agent-task and service-task lifecycles.
// Status moves only forward: pending -> in_progress -> completed|failed.
package taskstore

import (
	"time"
)

// Task status values.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// statusRank orders statuses for forward-transition checks. Terminal
// statuses share a rank; a task reaches at most one of them.
var statusRank = map[string]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// IsTerminal reports whether a status ends the task lifecycle.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Update is one entry in a task's ordered update history.
type Update struct {
	Status    string                 `json:"status,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Task is a unit of work dispatched to an agent or a service. Agent
// tasks and service tasks share a shape; ServiceID is set only on the
// latter, ParentTaskID/RequestingAgentID only on delegated agent tasks.
type Task struct {
	ID                string                 `json:"id"`
	Type              string                 `json:"type,omitempty"`
	Name              string                 `json:"name,omitempty"`
	AgentID           string                 `json:"agentId"`
	ServiceID         string                 `json:"serviceId,omitempty"`
	ClientID          string                 `json:"clientId,omitempty"`
	ParentTaskID      string                 `json:"parentTaskId,omitempty"`
	RequestingAgentID string                 `json:"requestingAgentId,omitempty"`
	Status            string                 `json:"status"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
	TaskData          map[string]interface{} `json:"taskData,omitempty"`
	Result            interface{}            `json:"result,omitempty"`
	Error             string                 `json:"error,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Updates           []Update               `json:"updates,omitempty"`
}

// Details carries the optional payload merged into a task on a status
// change or appended update.
type Details struct {
	Message  string
	Result   interface{}
	Error    string
	Data     map[string]interface{}
	Metadata map[string]interface{}
}

// Filter narrows List results.
type Filter struct {
	Status    string
	AgentID   string
	ServiceID string
	ClientID  string
}

func (f Filter) match(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.AgentID != "" && t.AgentID != f.AgentID {
		return false
	}
	if f.ServiceID != "" && t.ServiceID != f.ServiceID {
		return false
	}
	if f.ClientID != "" && t.ClientID != f.ClientID {
		return false
	}
	return true
}

func cloneTask(t *Task) *Task {
	cp := *t
	cp.Updates = append([]Update(nil), t.Updates...)
	return &cp
}
