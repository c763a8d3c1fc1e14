package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

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

func TestNewMemoryEventBus(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	if bus == nil {
		t.Fatal("Expected non-nil bus")
	}
	if !bus.IsConnected() {
		t.Error("Expected bus to be connected")
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var got *Event

	sub, err := bus.Subscribe("task.created", func(ctx context.Context, event *Event) error {
		got = event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("task.created", "task-store", map[string]interface{}{"taskId": "t-1"})
	if err := bus.Publish(ctx, "task.created", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Delivery is synchronous, so the handler has already run.
	if got == nil {
		t.Fatal("Handler was not invoked")
	}
	if got.ID != event.ID {
		t.Errorf("Expected event ID %s, got %s", event.ID, got.ID)
	}
	if got.Type != "task.created" {
		t.Errorf("Expected event type task.created, got %s", got.Type)
	}
}

func TestMemoryEventBus_Wildcards(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var single, multi, exact int32

	_, _ = bus.Subscribe("agent.*", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&single, 1)
		return nil
	})
	_, _ = bus.Subscribe("agent.>", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&multi, 1)
		return nil
	})
	_, _ = bus.Subscribe("agent.registered", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&exact, 1)
		return nil
	})

	_ = bus.Publish(ctx, "agent.registered", NewEvent("agent.registered", "test", nil))
	_ = bus.Publish(ctx, "agent.task.created", NewEvent("agent.task.created", "test", nil))

	if atomic.LoadInt32(&single) != 1 {
		t.Errorf("Expected * to match one token, got %d deliveries", single)
	}
	if atomic.LoadInt32(&multi) != 2 {
		t.Errorf("Expected > to match both subjects, got %d deliveries", multi)
	}
	if atomic.LoadInt32(&exact) != 1 {
		t.Errorf("Expected exact match once, got %d deliveries", exact)
	}
}

func TestMemoryEventBus_QueueGroupRoundRobin(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var a, b int32

	_, _ = bus.QueueSubscribe("task.created", "workers", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&a, 1)
		return nil
	})
	_, _ = bus.QueueSubscribe("task.created", "workers", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&b, 1)
		return nil
	})

	for i := 0; i < 4; i++ {
		_ = bus.Publish(ctx, "task.created", NewEvent("task.created", "test", nil))
	}

	if a != 2 || b != 2 {
		t.Errorf("Expected round-robin 2/2, got %d/%d", a, b)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("task.updated", func(ctx context.Context, e *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	_ = bus.Publish(ctx, "task.updated", NewEvent("task.updated", "test", nil))
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after unsubscribe")
	}
	_ = bus.Publish(ctx, "task.updated", NewEvent("task.updated", "test", nil))

	if count != 1 {
		t.Errorf("Expected one delivery, got %d", count)
	}
}

func TestMemoryEventBus_Request(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()

	_, err := bus.Subscribe("directory.query", func(ctx context.Context, e *Event) error {
		reply, _ := e.Data["_reply"].(string)
		if reply == "" {
			t.Error("Expected _reply subject on request event")
			return nil
		}
		return bus.Publish(ctx, reply, NewEvent("directory.result", "test", map[string]interface{}{"ok": true}))
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	resp, err := bus.Request(ctx, "directory.query", NewEvent("directory.query", "test", nil), time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Type != "directory.result" {
		t.Errorf("Expected directory.result, got %s", resp.Type)
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	bus.Close()

	if bus.IsConnected() {
		t.Error("Expected bus to be disconnected after close")
	}
	if err := bus.Publish(context.Background(), "x", NewEvent("x", "test", nil)); err == nil {
		t.Error("Expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe("x", func(ctx context.Context, e *Event) error { return nil }); err == nil {
		t.Error("Expected subscribe on closed bus to fail")
	}
}
