package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/codeboltai/agentswarmprotocol-sub001/internal/common/errors"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

func newTestCorrelator(t *testing.T) *Correlator {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return New(log)
}

func TestCorrelator_SendAndAwait(t *testing.T) {
	c := newTestCorrelator(t)

	var mu sync.Mutex
	var sentID string
	send := func(m *protocol.Message) error {
		mu.Lock()
		sentID = m.ID
		mu.Unlock()
		return nil
	}

	done := make(chan struct{})
	var reply *protocol.Message
	var err error
	go func() {
		defer close(done)
		msg, _ := protocol.New("service.task.execute", map[string]interface{}{"tool": "query"})
		reply, err = c.SendAndAwait(context.Background(), send, msg, time.Second, nil)
	}()

	// Wait until the request is registered.
	deadline := time.Now().Add(time.Second)
	for c.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Request was never registered")
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	id := sentID
	mu.Unlock()
	if id == "" {
		t.Fatal("Expected the envelope to be stamped before send")
	}

	answer := &protocol.Message{ID: "r-1", Type: "service.task.result", RequestID: id}
	if !c.Resolve(answer) {
		t.Fatal("Expected reply to be consumed")
	}

	<-done
	if err != nil {
		t.Fatalf("SendAndAwait failed: %v", err)
	}
	if reply.ID != "r-1" {
		t.Errorf("Expected reply r-1, got %s", reply.ID)
	}
	if c.PendingCount() != 0 {
		t.Errorf("Expected empty table, got %d pending", c.PendingCount())
	}
}

func TestCorrelator_Timeout(t *testing.T) {
	c := newTestCorrelator(t)

	msg, _ := protocol.New("service.task.execute", nil)
	_, err := c.SendAndAwait(context.Background(), func(m *protocol.Message) error { return nil }, msg, 20*time.Millisecond, nil)
	if apperrors.CodeOf(err) != apperrors.CodeTimeout {
		t.Fatalf("Expected Timeout, got %v", err)
	}

	// A late reply after the timeout is not consumed.
	if c.Resolve(&protocol.Message{ID: "late", RequestID: msg.ID}) {
		t.Error("Expected late reply to be left alone")
	}
}

func TestCorrelator_SendFailure(t *testing.T) {
	c := newTestCorrelator(t)

	msg, _ := protocol.New("service.task.execute", nil)
	_, err := c.SendAndAwait(context.Background(), func(m *protocol.Message) error {
		return apperrors.UnavailablePeer("gone")
	}, msg, time.Second, nil)
	if apperrors.CodeOf(err) != apperrors.CodeUnavailablePeer {
		t.Fatalf("Expected UnavailablePeer, got %v", err)
	}
	if c.PendingCount() != 0 {
		t.Errorf("Expected table cleaned up after send failure, got %d", c.PendingCount())
	}
}

func TestCorrelator_FilterRejectsMismatchedType(t *testing.T) {
	c := newTestCorrelator(t)

	done := make(chan struct{})
	var reply *protocol.Message
	msg, _ := protocol.New("service.task.execute", nil)
	go func() {
		defer close(done)
		reply, _ = c.SendAndAwait(context.Background(), func(m *protocol.Message) error { return nil }, msg, time.Second, TypeFilter("service.task.result"))
	}()

	deadline := time.Now().Add(time.Second)
	for c.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Request was never registered")
		}
		time.Sleep(time.Millisecond)
	}

	if c.Resolve(&protocol.Message{ID: "n-1", Type: "service.notification", RequestID: msg.ID}) {
		t.Error("Expected notification to be rejected by the filter")
	}
	if !c.Resolve(&protocol.Message{ID: "r-1", Type: "service.task.result", RequestID: msg.ID}) {
		t.Error("Expected matching result to be consumed")
	}

	<-done
	if reply == nil || reply.ID != "r-1" {
		t.Errorf("Expected reply r-1, got %+v", reply)
	}
}

func TestCorrelator_ResolveWithoutRequestID(t *testing.T) {
	c := newTestCorrelator(t)
	if c.Resolve(&protocol.Message{ID: "x", Type: "task.notification"}) {
		t.Error("Expected frames without requestId to pass through")
	}
}

func TestCorrelator_Shutdown(t *testing.T) {
	c := newTestCorrelator(t)

	done := make(chan error, 1)
	msg, _ := protocol.New("service.task.execute", nil)
	go func() {
		_, err := c.SendAndAwait(context.Background(), func(m *protocol.Message) error { return nil }, msg, time.Minute, nil)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for c.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Request was never registered")
		}
		time.Sleep(time.Millisecond)
	}

	c.Shutdown()

	select {
	case err := <-done:
		if apperrors.CodeOf(err) != apperrors.CodeShutdown {
			t.Errorf("Expected Shutdown error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Awaiter was not released by shutdown")
	}

	// New requests are rejected after shutdown.
	late, _ := protocol.New("service.task.execute", nil)
	if _, err := c.SendAndAwait(context.Background(), func(m *protocol.Message) error { return nil }, late, time.Second, nil); apperrors.CodeOf(err) != apperrors.CodeShutdown {
		t.Errorf("Expected Shutdown for new request, got %v", err)
	}
}
