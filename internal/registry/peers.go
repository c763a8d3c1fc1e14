package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/events/bus"
)

// Registration is the identity data carried by a registration frame.
type Registration struct {
	ID           string
	Name         string
	Capabilities []string
	Metadata     map[string]interface{}
}

// PeerRegistry owns the records for one peer kind (agents or services).
// It keeps three disjoint maps: pending connections by connection id,
// registered identities indexed by id and by name, and a reverse index
// from connection id to identity id.
type PeerRegistry struct {
	kind string // "agent" or "service"

	mu        sync.RWMutex
	pending   map[string]*PendingConnection
	byID      map[string]*Peer
	byName    map[string]*Peer
	connIndex map[string]string // connection id -> identity id

	bus    bus.EventBus
	logger *logger.Logger

	eventConnected    string
	eventRegistered   string
	eventDisconnected string
}

// NewPeerRegistry creates a registry for the given peer kind. The event
// names are published on the bus at each lifecycle transition.
func NewPeerRegistry(kind string, eventBus bus.EventBus, log *logger.Logger, connected, registered, disconnected string) *PeerRegistry {
	return &PeerRegistry{
		kind:              kind,
		pending:           make(map[string]*PendingConnection),
		byID:              make(map[string]*Peer),
		byName:            make(map[string]*Peer),
		connIndex:         make(map[string]string),
		bus:               eventBus,
		logger:            log.WithFields(zap.String("component", kind+"-registry")),
		eventConnected:    connected,
		eventRegistered:   registered,
		eventDisconnected: disconnected,
	}
}

// AddPending records a freshly accepted connection awaiting registration.
func (r *PeerRegistry) AddPending(connID string) *PendingConnection {
	pc := &PendingConnection{
		ConnectionID: connID,
		ConnectedAt:  time.Now().UTC(),
	}

	r.mu.Lock()
	r.pending[connID] = pc
	r.mu.Unlock()

	r.publish(r.eventConnected, map[string]interface{}{
		"connectionId": connID,
	})
	return pc
}

// Register associates an identity with a pending connection. A missing
// pending entry fails with UnknownConnection. An identity re-registering
// from a new connection reclaims its record; a different identity
// carrying an already-held name evicts the older record.
func (r *PeerRegistry) Register(reg Registration, connID string) (*Peer, error) {
	if reg.Name == "" {
		return nil, errors.UnknownIdentity(r.kind + " registration requires a name")
	}

	r.mu.Lock()

	if _, ok := r.pending[connID]; !ok {
		r.mu.Unlock()
		return nil, errors.UnknownConnection(connID)
	}

	id := reg.ID
	if id == "" {
		id = uuid.New().String()
	}

	// Same name held by a different identity: the newer registration wins.
	if holder, ok := r.byName[reg.Name]; ok && holder.ID != id {
		holder.Status = StatusOffline
		if holder.StatusDetails == nil {
			holder.StatusDetails = make(map[string]interface{})
		}
		holder.StatusDetails["disconnectedReason"] = DisconnectReasonReplaced
		delete(r.connIndex, holder.ConnectionID)
		holder.ConnectionID = ""
		delete(r.byName, reg.Name)
	}

	peer, existed := r.byID[id]
	if existed {
		// Reconnection: close out the previous connection first.
		if peer.ConnectionID != "" && peer.ConnectionID != connID {
			delete(r.connIndex, peer.ConnectionID)
		}
		if peer.Name != reg.Name {
			delete(r.byName, peer.Name)
		}
		peer.Name = reg.Name
		peer.Capabilities = append([]string(nil), reg.Capabilities...)
		peer.Metadata = reg.Metadata
	} else {
		peer = &Peer{
			ID:           id,
			Name:         reg.Name,
			Capabilities: append([]string(nil), reg.Capabilities...),
			Metadata:     reg.Metadata,
			RegisteredAt: time.Now().UTC(),
		}
		r.byID[id] = peer
	}

	peer.Status = StatusOnline
	peer.ConnectionID = connID
	peer.StatusDetails = nil
	r.byName[reg.Name] = peer
	r.connIndex[connID] = id
	delete(r.pending, connID)

	snapshot := clonePeer(peer)
	r.mu.Unlock()

	r.logger.Info("Peer registered",
		zap.String("id", snapshot.ID),
		zap.String("name", snapshot.Name),
		zap.String("connection_id", connID))

	r.publish(r.eventRegistered, map[string]interface{}{
		"id":           snapshot.ID,
		"name":         snapshot.Name,
		"connectionId": connID,
		"capabilities": snapshot.Capabilities,
	})
	return snapshot, nil
}

// Get returns the peer with the given identity id.
func (r *PeerRegistry) Get(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return clonePeer(p), true
}

// GetByName returns the peer currently holding the given name.
func (r *PeerRegistry) GetByName(name string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return clonePeer(p), true
}

// GetByConnection returns the peer registered on the given connection.
func (r *PeerRegistry) GetByConnection(connID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.connIndex[connID]
	if !ok {
		return nil, false
	}
	p, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return clonePeer(p), true
}

// List returns the peers matching the filter.
func (r *PeerRegistry) List(filter Filter) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Peer, 0, len(r.byID))
	for _, p := range r.byID {
		if filter.matchPeer(p) {
			result = append(result, clonePeer(p))
		}
	}
	return result
}

// HandleDisconnect flips the record on the given connection to offline,
// retaining it so a reconnection can reclaim the identity. It returns the
// affected peer, or nil when the connection was only pending.
func (r *PeerRegistry) HandleDisconnect(connID string) *Peer {
	r.mu.Lock()

	if _, ok := r.pending[connID]; ok {
		delete(r.pending, connID)
		r.mu.Unlock()
		return nil
	}

	id, ok := r.connIndex[connID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.connIndex, connID)

	peer, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	peer.Status = StatusOffline
	peer.ConnectionID = ""
	if peer.StatusDetails == nil {
		peer.StatusDetails = make(map[string]interface{})
	}
	peer.StatusDetails["disconnectedAt"] = time.Now().UTC().Format(time.RFC3339)

	snapshot := clonePeer(peer)
	r.mu.Unlock()

	r.logger.Info("Peer disconnected",
		zap.String("id", snapshot.ID),
		zap.String("name", snapshot.Name))

	r.publish(r.eventDisconnected, map[string]interface{}{
		"id":           snapshot.ID,
		"name":         snapshot.Name,
		"connectionId": connID,
	})
	return snapshot
}

// UpdateStatusDetails merges details into the peer's status details.
func (r *PeerRegistry) UpdateStatusDetails(id string, details map[string]interface{}) (*Peer, error) {
	r.mu.Lock()
	peer, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil, errors.NotFound(r.kind, id)
	}
	if peer.StatusDetails == nil {
		peer.StatusDetails = make(map[string]interface{})
	}
	for k, v := range details {
		peer.StatusDetails[k] = v
	}
	snapshot := clonePeer(peer)
	r.mu.Unlock()
	return snapshot, nil
}

// Remove hard-deletes the peer with the given id.
func (r *PeerRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.byID[id]
	if !ok {
		return errors.NotFound(r.kind, id)
	}
	delete(r.byID, id)
	if holder, ok := r.byName[peer.Name]; ok && holder.ID == id {
		delete(r.byName, peer.Name)
	}
	if peer.ConnectionID != "" {
		delete(r.connIndex, peer.ConnectionID)
	}
	return nil
}

// HasPending reports whether a connection is awaiting registration.
func (r *PeerRegistry) HasPending(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pending[connID]
	return ok
}

func (r *PeerRegistry) publish(eventType string, data map[string]interface{}) {
	if r.bus == nil {
		return
	}
	event := bus.NewEvent(eventType, r.kind+"-registry", data)
	if err := r.bus.Publish(context.Background(), eventType, event); err != nil {
		r.logger.Warn("Failed to publish registry event", zap.Error(err))
	}
}
