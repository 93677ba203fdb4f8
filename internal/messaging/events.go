package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/helixsec/fusion/internal/models"
)

// Events publishes group lifecycle events and action requests to the bus.
// A nil publisher (bus disabled) turns every publish into a no-op so the
// pipeline does not depend on the broker being up.
type Events struct {
	pub Publisher
}

// NewEvents wraps a publisher; pub may be nil.
func NewEvents(pub Publisher) *Events {
	return &Events{pub: pub}
}

// GroupEscalated announces a group awaiting human attention.
func (e *Events) GroupEscalated(ctx context.Context, summary *models.GroupSummary) error {
	return e.publish(ctx, SubjectGroupsEscalated, summary)
}

// GroupRouted announces a completed routing decision.
func (e *Events) GroupRouted(ctx context.Context, record *models.RoutedGroup) error {
	return e.publish(ctx, SubjectGroupsRouted, record)
}

// GroupClosed announces an informational close, for audit consumers only.
func (e *Events) GroupClosed(ctx context.Context, record *models.RoutedGroup) error {
	return e.publish(ctx, SubjectGroupsClosed, record)
}

// RequestAction hands an action request to the executor workers. Destructive
// requests without an approval token are rejected here, before anything
// reaches the bus.
func (e *Events) RequestAction(ctx context.Context, req *models.ActionRequest) error {
	if req.Destructive && req.ApprovalToken == "" {
		return errors.New("destructive action rejected: approval token absent")
	}
	if err := e.publish(ctx, SubjectActionsRequested, req); err != nil {
		return fmt.Errorf("publish action request: %w", err)
	}
	return nil
}

func (e *Events) publish(ctx context.Context, subject string, data any) error {
	if e.pub == nil {
		return nil
	}
	return e.pub.PublishJSON(ctx, subject, data)
}
