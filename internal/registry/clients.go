package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events/bus"
)

// ClientRegistry owns client records. Unlike agents and services, a
// client gets a record as soon as its connection is accepted; an explicit
// client.register only attaches a name and metadata.
type ClientRegistry struct {
	mu        sync.RWMutex
	byID      map[string]*Client
	connIndex map[string]string // connection id -> client id

	bus    bus.EventBus
	logger *logger.Logger
}

// NewClientRegistry creates a client registry.
func NewClientRegistry(eventBus bus.EventBus, log *logger.Logger) *ClientRegistry {
	return &ClientRegistry{
		byID:      make(map[string]*Client),
		connIndex: make(map[string]string),
		bus:       eventBus,
		logger:    log.WithFields(zap.String("component", "client-registry")),
	}
}

// AddConnection creates an anonymous client record for a fresh
// connection. The client id doubles as the connection's assigned id.
func (r *ClientRegistry) AddConnection(connID string) *Client {
	now := time.Now().UTC()
	client := &Client{
		ID:           connID,
		Status:       StatusOnline,
		ConnectionID: connID,
		RegisteredAt: now,
		LastActiveAt: now,
	}

	r.mu.Lock()
	r.byID[client.ID] = client
	r.connIndex[connID] = client.ID
	r.mu.Unlock()

	r.publish(events.ClientConnected, map[string]interface{}{
		"clientId":     client.ID,
		"connectionId": connID,
	})
	return cloneClient(client)
}

// Register upserts the client's name and metadata.
func (r *ClientRegistry) Register(connID, name string, metadata map[string]interface{}) (*Client, error) {
	r.mu.Lock()
	id, ok := r.connIndex[connID]
	if !ok {
		r.mu.Unlock()
		return nil, errors.UnknownConnection(connID)
	}
	client := r.byID[id]
	if name != "" {
		client.Name = name
	}
	if metadata != nil {
		client.Metadata = metadata
	}
	client.Status = StatusOnline
	client.LastActiveAt = time.Now().UTC()
	snapshot := cloneClient(client)
	r.mu.Unlock()

	r.publish(events.ClientRegistered, map[string]interface{}{
		"clientId": snapshot.ID,
		"name":     snapshot.Name,
	})
	return snapshot, nil
}

// Get returns the client with the given id.
func (r *ClientRegistry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return cloneClient(c), true
}

// GetByConnection returns the client on the given connection.
func (r *ClientRegistry) GetByConnection(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.connIndex[connID]
	if !ok {
		return nil, false
	}
	c, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return cloneClient(c), true
}

// List returns clients, optionally filtered by status.
func (r *ClientRegistry) List(status string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Client, 0, len(r.byID))
	for _, c := range r.byID {
		if status != "" && c.Status != status {
			continue
		}
		result = append(result, cloneClient(c))
	}
	return result
}

// Touch refreshes the client's last-active timestamp.
func (r *ClientRegistry) Touch(id string) {
	r.mu.Lock()
	if c, ok := r.byID[id]; ok {
		c.LastActiveAt = time.Now().UTC()
	}
	r.mu.Unlock()
}

// HandleDisconnect flips the client to offline, retaining the record.
func (r *ClientRegistry) HandleDisconnect(connID string) *Client {
	r.mu.Lock()
	id, ok := r.connIndex[connID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.connIndex, connID)

	client, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	client.Status = StatusOffline
	client.ConnectionID = ""
	snapshot := cloneClient(client)
	r.mu.Unlock()

	r.publish(events.ClientDisconnected, map[string]interface{}{
		"clientId":     snapshot.ID,
		"connectionId": connID,
	})
	return snapshot
}

// Remove hard-deletes the client with the given id.
func (r *ClientRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.byID[id]
	if !ok {
		return errors.NotFound("client", id)
	}
	delete(r.byID, id)
	if client.ConnectionID != "" {
		delete(r.connIndex, client.ConnectionID)
	}
	return nil
}

func (r *ClientRegistry) publish(eventType string, data map[string]interface{}) {
	if r.bus == nil {
		return
	}
	event := bus.NewEvent(eventType, events.SourceClientRegistry, data)
	if err := r.bus.Publish(context.Background(), eventType, event); err != nil {
		r.logger.Warn("Failed to publish registry event", zap.Error(err))
	}
}
