// Package notify raises role-addressed notification events. Delivery to
// actual users is a downstream consumer's job; the core only guarantees an
// event is raised once per qualifying save and never fails a save over it.
package notify

import (
	"context"
	"time"
)

// Event is the payload raised when a reviewer leaves a comment that sends a
// section back for rework.
type Event struct {
	Role     string    `json:"role"`
	HeaderID string    `json:"headerId"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raisedAt"`
	RaisedBy string    `json:"raisedBy"`
}

// Notifier publishes events addressed to all holders of a role.
type Notifier interface {
	NotifyRoleHolders(ctx context.Context, event Event) error
}

// Discard is a Notifier that drops every event, for deployments without a
// broker and for tests.
type Discard struct{}

func (Discard) NotifyRoleHolders(context.Context, Event) error { return nil }
