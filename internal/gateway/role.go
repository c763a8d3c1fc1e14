// Package gateway hosts the orchestrator's three peer-facing WebSocket
// endpoints. Each listener accepts connections, sends the welcome frame,
// decodes envelopes, and hands them to the router tagged with the
// originating connection id.
package gateway

import "github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"

// Role identifies which endpoint a connection arrived on.
type Role string

const (
	RoleAgent   Role = "agent"
	RoleClient  Role = "client"
	RoleService Role = "service"
)

// WelcomeType returns the envelope type of the welcome frame for the role.
func (r Role) WelcomeType() string {
	if r == RoleClient {
		return protocol.TypeClientWelcome
	}
	return protocol.TypeWelcome
}
