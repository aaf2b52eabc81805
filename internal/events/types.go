package events

import (
	"time"

	"github.com/cheezy/kanban/internal/task"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicGoal = "goal"
)

// Event type constants
const (
	TypeTaskCreated         = "task_created"
	TypeTaskClaimed         = "task_claimed"
	TypeTaskSubmitted       = "task_submitted"
	TypeTaskApproved        = "task_approved"
	TypeTaskReturnedToDoing = "task_returned_to_doing"
	TypeTaskUnclaimed       = "task_unclaimed"
	TypeTaskUnblocked       = "task_unblocked"
	TypeTaskBlocked         = "task_blocked"
	TypeGoalRepositioned    = "goal_repositioned"
)

// ActorSystem is the actor recorded for transitions the engine makes on its own.
const ActorSystem = "system"

// TransitionEvent is emitted once per committed transition.
type TransitionEvent struct {
	Type       string            `json:"type"`
	ID         string            `json:"task_id"`
	Identifier string            `json:"identifier"`
	BoardID    string            `json:"board_id"`
	Column     task.Column       `json:"column"`
	Status     task.Status       `json:"status"`
	Position   int               `json:"position"`
	Actor      string            `json:"actor"`
	Timestamp  time.Time         `json:"timestamp"`
	Detail     map[string]string `json:"detail,omitempty"`
}

func (e TransitionEvent) EventType() string { return e.Type }
func (e TransitionEvent) TaskID() string    { return e.ID }

// Topic returns the topic the event is published on.
func (e TransitionEvent) Topic() string {
	if e.Type == TypeGoalRepositioned {
		return TopicGoal
	}
	return TopicTask
}

// NewTransition builds an event describing t after a transition.
func NewTransition(typ string, t *task.Task, actor string, at time.Time) TransitionEvent {
	return TransitionEvent{
		Type:       typ,
		ID:         t.ID,
		Identifier: t.Identifier,
		BoardID:    t.BoardID,
		Column:     t.Column,
		Status:     t.Status,
		Position:   t.Position,
		Actor:      actor,
		Timestamp:  at,
	}
}

// With returns a copy of e carrying an extra detail entry.
func (e TransitionEvent) With(key, value string) TransitionEvent {
	detail := make(map[string]string, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	e.Detail = detail
	return e
}

// Publisher receives committed transition events in commit order.
type Publisher interface {
	Publish(topic string, event Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, Event) {}
