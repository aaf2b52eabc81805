package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/cheezy/kanban/internal/task"
)

func claimed(id string) TransitionEvent {
	return NewTransition(TypeTaskClaimed, &task.Task{ID: id, Identifier: "W1", BoardID: "b1", Column: task.ColumnDoing, Status: task.StatusInProgress}, "agent-1", time.Now())
}

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)
	bus.Publish(TopicTask, claimed("task-1"))

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != TypeTaskClaimed {
			t.Errorf("expected event type '%s', got '%s'", TypeTaskClaimed, received.EventType())
		}
		ev := received.(TransitionEvent)
		if ev.Column != task.ColumnDoing || ev.Actor != "agent-1" || ev.BoardID != "b1" {
			t.Errorf("event fields = %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, claimed("task-2"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestOrderPreserved verifies a subscriber sees events in publish order.
func TestOrderPreserved(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.SubscribeAll(50)
	for i := 0; i < 20; i++ {
		bus.Publish(TopicTask, claimed(fmt.Sprintf("task-%d", i)))
	}
	for i := 0; i < 20; i++ {
		received := <-ch
		if want := fmt.Sprintf("task-%d", i); received.TaskID() != want {
			t.Fatalf("event %d = %s, want %s", i, received.TaskID(), want)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	var dropped []string
	bus := NewEventBus(WithDropHandler(func(e Event) { dropped = append(dropped, e.TaskID()) }))
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, claimed(fmt.Sprintf("task-%d", i)))
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received.TaskID() != "task-0" {
			t.Errorf("buffered event = %s, want task-0", received.TaskID())
		}
	default:
		t.Error("expected at least one event in buffer")
	}

	if bus.Dropped() != 9 || len(dropped) != 9 {
		t.Errorf("Dropped() = %d, handler saw %d, want 9", bus.Dropped(), len(dropped))
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)
	bus.Close()
	bus.Close()

	received := 0
	for range ch {
		received++
	}
	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}

	late := bus.SubscribeAll(1)
	if _, ok := <-late; ok {
		t.Error("subscription after close should be closed")
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()
	bus.Publish(TopicTask, claimed("task-1"))

	if _, ok := <-ch; ok {
		t.Error("received event after bus was closed")
	}
}

// TestMultipleTopics verifies topic isolation.
func TestMultipleTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	goalCh := bus.Subscribe(TopicGoal, 10)

	goal := NewTransition(TypeGoalRepositioned, &task.Task{ID: "g1", Kind: task.KindGoal}, ActorSystem, time.Now())
	task1 := claimed("task-1")
	bus.Publish(task1.Topic(), task1)
	bus.Publish(goal.Topic(), goal)

	select {
	case received := <-taskCh:
		if received.EventType() != TypeTaskClaimed {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-goalCh:
		if received.EventType() != TypeGoalRepositioned {
			t.Errorf("goal channel: expected goal event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("goal channel: timeout waiting for event")
	}

	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-goalCh:
		t.Error("goal channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)
	bus.Publish(TopicTask, claimed("task-1"))
	bus.Publish(TopicGoal, NewTransition(TypeGoalRepositioned, &task.Task{ID: "g1"}, ActorSystem, time.Now()))

	receivedTypes := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for event %d", i+1)
		}
	}
	if !receivedTypes[TypeTaskClaimed] || !receivedTypes[TypeGoalRepositioned] {
		t.Errorf("SubscribeAll received %v", receivedTypes)
	}
}

func TestWithCopiesDetail(t *testing.T) {
	base := claimed("t").With("reason", "expired")
	derived := base.With("hook", "before_doing")
	if len(base.Detail) != 1 || len(derived.Detail) != 2 || derived.Detail["reason"] != "expired" {
		t.Errorf("With() detail: base=%v derived=%v", base.Detail, derived.Detail)
	}
}
