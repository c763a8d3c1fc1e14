// Package registry tracks the identities connected to the orchestrator:
// agents, services and clients, plus the pending connections that have
// not yet registered.
package registry

import (
	"time"
)

// Peer status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DisconnectReasonReplaced is recorded on a peer evicted by a newer
// registration carrying the same name.
const DisconnectReasonReplaced = "Replaced by agent with same name"

// Peer is a registered agent or service identity. Agents and services
// share a lifecycle; the registry kind distinguishes them.
type Peer struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Capabilities  []string               `json:"capabilities,omitempty"`
	Status        string                 `json:"status"`
	ConnectionID  string                 `json:"connectionId,omitempty"`
	StatusDetails map[string]interface{} `json:"statusDetails,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	RegisteredAt  time.Time              `json:"registeredAt"`
}

// Client is a task-originating peer. Anonymous until client.register
// carries a name.
type Client struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name,omitempty"`
	Status       string                 `json:"status"`
	ConnectionID string                 `json:"connectionId,omitempty"`
	RegisteredAt time.Time              `json:"registeredAt"`
	LastActiveAt time.Time              `json:"lastActiveAt"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// PendingConnection is a transport connection that has not yet sent a
// valid registration frame.
type PendingConnection struct {
	ConnectionID string    `json:"connectionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// Filter narrows List results. Capabilities must all be present on a
// record for it to match.
type Filter struct {
	Status       string
	Capabilities []string
}

func (f Filter) matchPeer(p *Peer) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	for _, want := range f.Capabilities {
		found := false
		for _, have := range p.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func clonePeer(p *Peer) *Peer {
	cp := *p
	cp.Capabilities = append([]string(nil), p.Capabilities...)
	return &cp
}

func cloneClient(c *Client) *Client {
	cp := *c
	return &cp
}
