package registry

import (
	"testing"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func newTestRegistry(t *testing.T) *PeerRegistry {
	return NewPeerRegistry("agent", nil, newTestLogger(t),
		"agent.connected", "agent.registered", "agent.disconnected")
}

func TestPeerRegistry_RegisterRequiresPending(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Register(Registration{Name: "coder"}, "conn-1")
	if apperrors.CodeOf(err) != apperrors.CodeUnknownConnection {
		t.Fatalf("Expected UnknownConnection, got %v", err)
	}

	r.AddPending("conn-1")
	peer, err := r.Register(Registration{Name: "coder"}, "conn-1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if peer.ID == "" {
		t.Error("Expected a minted identity id")
	}
	if peer.Status != StatusOnline {
		t.Errorf("Expected online status, got %s", peer.Status)
	}
	if r.HasPending("conn-1") {
		t.Error("Expected pending entry to be consumed")
	}
}

func TestPeerRegistry_Lookups(t *testing.T) {
	r := newTestRegistry(t)
	r.AddPending("conn-1")
	peer, err := r.Register(Registration{ID: "a-1", Name: "coder", Capabilities: []string{"code"}}, "conn-1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if got, ok := r.Get("a-1"); !ok || got.Name != "coder" {
		t.Errorf("Get by id failed: %v %v", got, ok)
	}
	if got, ok := r.GetByName("coder"); !ok || got.ID != "a-1" {
		t.Errorf("Get by name failed: %v %v", got, ok)
	}
	if got, ok := r.GetByConnection("conn-1"); !ok || got.ID != "a-1" {
		t.Errorf("Get by connection failed: %v %v", got, ok)
	}

	// Snapshots must not alias registry state.
	peer.Capabilities[0] = "mutated"
	if got, _ := r.Get("a-1"); got.Capabilities[0] != "code" {
		t.Error("Registry state leaked through a snapshot")
	}
}

func TestPeerRegistry_NameEviction(t *testing.T) {
	r := newTestRegistry(t)
	r.AddPending("conn-1")
	first, err := r.Register(Registration{Name: "coder"}, "conn-1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	r.AddPending("conn-2")
	second, err := r.Register(Registration{Name: "coder"}, "conn-2")
	if err != nil {
		t.Fatalf("Second register failed: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("Expected a distinct identity for the second registration")
	}

	evicted, ok := r.Get(first.ID)
	if !ok {
		t.Fatal("Evicted record should be retained")
	}
	if evicted.Status != StatusOffline {
		t.Errorf("Expected evicted record offline, got %s", evicted.Status)
	}
	if reason := evicted.StatusDetails["disconnectedReason"]; reason != DisconnectReasonReplaced {
		t.Errorf("Expected eviction reason %q, got %v", DisconnectReasonReplaced, reason)
	}

	// The name now resolves to the newer identity.
	holder, _ := r.GetByName("coder")
	if holder.ID != second.ID {
		t.Errorf("Expected name to resolve to %s, got %s", second.ID, holder.ID)
	}
	// The evicted connection no longer maps to anyone.
	if _, ok := r.GetByConnection("conn-1"); ok {
		t.Error("Expected conn-1 to be unmapped after eviction")
	}
}

func TestPeerRegistry_DisconnectAndReclaim(t *testing.T) {
	r := newTestRegistry(t)
	r.AddPending("conn-1")
	peer, _ := r.Register(Registration{ID: "a-1", Name: "coder"}, "conn-1")

	gone := r.HandleDisconnect("conn-1")
	if gone == nil || gone.ID != peer.ID {
		t.Fatalf("Expected disconnect to report peer %s, got %v", peer.ID, gone)
	}
	if got, _ := r.Get("a-1"); got.Status != StatusOffline || got.ConnectionID != "" {
		t.Errorf("Expected retained offline record, got %+v", got)
	}

	// Same identity reconnects and reclaims its record.
	r.AddPending("conn-2")
	back, err := r.Register(Registration{ID: "a-1", Name: "coder"}, "conn-2")
	if err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}
	if back.Status != StatusOnline || back.ConnectionID != "conn-2" {
		t.Errorf("Expected reclaimed online record on conn-2, got %+v", back)
	}
	if len(r.List(Filter{})) != 1 {
		t.Errorf("Expected a single record, got %d", len(r.List(Filter{})))
	}
}

func TestPeerRegistry_DisconnectPendingIsSilent(t *testing.T) {
	r := newTestRegistry(t)
	r.AddPending("conn-1")

	if p := r.HandleDisconnect("conn-1"); p != nil {
		t.Errorf("Expected nil for a pending-only disconnect, got %+v", p)
	}
	if r.HasPending("conn-1") {
		t.Error("Expected pending entry to be dropped")
	}
}

func TestPeerRegistry_ListFilter(t *testing.T) {
	r := newTestRegistry(t)
	r.AddPending("conn-1")
	_, _ = r.Register(Registration{ID: "a-1", Name: "coder", Capabilities: []string{"code", "review"}}, "conn-1")
	r.AddPending("conn-2")
	_, _ = r.Register(Registration{ID: "a-2", Name: "tester", Capabilities: []string{"test"}}, "conn-2")
	r.HandleDisconnect("conn-2")

	if got := len(r.List(Filter{})); got != 2 {
		t.Errorf("Expected 2 peers, got %d", got)
	}
	if got := len(r.List(Filter{Status: StatusOnline})); got != 1 {
		t.Errorf("Expected 1 online peer, got %d", got)
	}
	if got := len(r.List(Filter{Capabilities: []string{"review"}})); got != 1 {
		t.Errorf("Expected 1 peer with review capability, got %d", got)
	}
	if got := len(r.List(Filter{Capabilities: []string{"deploy"}})); got != 0 {
		t.Errorf("Expected no peers with deploy capability, got %d", got)
	}
}

func TestPeerRegistry_Remove(t *testing.T) {
	r := newTestRegistry(t)
	r.AddPending("conn-1")
	_, _ = r.Register(Registration{ID: "a-1", Name: "coder"}, "conn-1")

	if err := r.Remove("a-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := r.Get("a-1"); ok {
		t.Error("Expected record to be gone")
	}
	if _, ok := r.GetByName("coder"); ok {
		t.Error("Expected name to be released")
	}
	if err := r.Remove("a-1"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Errorf("Expected NotFound on double remove, got %v", err)
	}
}
