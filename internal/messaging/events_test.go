package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixsec/fusion/internal/models"
)

type capturePublisher struct {
	subjects []string
	payloads [][]byte
}

func (c *capturePublisher) Publish(_ context.Context, subject string, data []byte) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *capturePublisher) PublishJSON(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.Publish(ctx, subject, payload)
}

func (c *capturePublisher) Close() error { return nil }

func TestEvents_DestructiveActionWithoutTokenRejected(t *testing.T) {
	pub := &capturePublisher{}
	e := NewEvents(pub)

	err := e.RequestAction(context.Background(), &models.ActionRequest{
		GroupID:     "grp-1",
		ActionType:  "revoke_sessions",
		Destructive: true,
	})
	require.Error(t, err)
	assert.Empty(t, pub.subjects, "nothing may reach the bus without a token")
}

func TestEvents_DestructiveActionWithTokenPublished(t *testing.T) {
	pub := &capturePublisher{}
	e := NewEvents(pub)

	err := e.RequestAction(context.Background(), &models.ActionRequest{
		GroupID:       "grp-1",
		ActionType:    "revoke_sessions",
		Destructive:   true,
		ApprovalToken: "token",
	})
	require.NoError(t, err)
	require.Equal(t, []string{SubjectActionsRequested}, pub.subjects)

	var got models.ActionRequest
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "token", got.ApprovalToken)
}

func TestEvents_NonDestructiveNeedsNoToken(t *testing.T) {
	pub := &capturePublisher{}
	e := NewEvents(pub)

	err := e.RequestAction(context.Background(), &models.ActionRequest{
		GroupID:    "grp-1",
		ActionType: "notify_oncall",
	})
	require.NoError(t, err)
	assert.Len(t, pub.subjects, 1)
}

func TestEvents_NilPublisherIsNoOp(t *testing.T) {
	e := NewEvents(nil)

	err := e.GroupEscalated(context.Background(), &models.GroupSummary{GroupID: "grp-1"})
	assert.NoError(t, err)
	err = e.GroupRouted(context.Background(), &models.RoutedGroup{GroupID: "grp-1"})
	assert.NoError(t, err)
}
