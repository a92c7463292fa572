// Package feed distributes group activity events to WebSocket subscribers
// and, optionally, to a Kafka topic.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	GroupCreated      = "group.created"
	GroupUpdated      = "group.updated"
	GroupDeleted      = "group.deleted"
	MembershipCreated = "membership.created"
	MembershipUpdated = "membership.updated"
	MembershipDeleted = "membership.deleted"
)

// Event is a single change to a group or its memberships.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	GroupID   string          `json:"group_id"`
	ActorID   string          `json:"actor_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent builds an event with a fresh ID. data is marshaled as the payload;
// a value that cannot be marshaled leaves the payload empty.
func NewEvent(typ, groupID, actorID string, data any) Event {
	e := Event{
		ID:        uuid.New().String(),
		Type:      typ,
		GroupID:   groupID,
		ActorID:   actorID,
		CreatedAt: time.Now().UTC(),
	}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			e.Data = b
		}
	}
	return e
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi fans an event out to several publishers. Every publisher is tried;
// the failures are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
