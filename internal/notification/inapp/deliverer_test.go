package inapp

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/realtime"
	"github.com/auralink/proactive/internal/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type fixture struct {
	d     *Deliverer
	convs repository.ConversationRepository
	ents  repository.EntityRepository
	pub   *recordingPublisher
	e     *entities.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &fixture{
		convs: repository.NewConversationRepository(db),
		ents:  repository.NewEntityRepository(db),
		pub:   &recordingPublisher{},
	}
	f.d = New(f.convs, f.ents, f.pub, nil)
	f.e = &entities.Entity{UserID: "u1", Name: "aura", Enabled: true, ProactiveEnabled: true}
	require.NoError(t, f.ents.CreateEntity(t.Context(), f.e))
	return f
}

func (f *fixture) notification(id string) *entities.QueuedNotification {
	ruleID := uint(3)
	return &entities.QueuedNotification{
		ID:             id,
		EntityID:       f.e.ID,
		UserID:         "u1",
		RuleID:         &ruleID,
		Message:        "Rain is coming",
		SensorSnapshot: map[string]any{"weather": map[string]any{"rain": 0.8}},
	}
}

func (f *fixture) entityUnread(t *testing.T) int {
	t.Helper()
	e, err := f.ents.GetEntity(t.Context(), f.e.ID)
	require.NoError(t, err)
	return e.UnreadProactiveCount
}

func TestDeliver_CreatesConversationAndCounts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.d.Deliver(t.Context(), f.notification("n1"))
	require.True(t, res.Success, res.Error)
	assert.NotEmpty(t, res.ExternalID)

	conv, err := f.convs.FindLatestOpen(t.Context(), f.e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadProactiveCount)
	assert.Len(t, conv.SessionID, 36)
	assert.Equal(t, 1, f.entityUnread(t))

	msgs, err := f.convs.ListMessages(t.Context(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Proactive)
	assert.Equal(t, entities.RoleAssistant, msgs[0].Role)
	assert.Equal(t, entities.StatusDelivered, msgs[0].Status)
	require.NotNil(t, msgs[0].RuleID)
	assert.Equal(t, uint(3), *msgs[0].RuleID)
	assert.Contains(t, msgs[0].SensorSnapshot, "weather")

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, realtime.EventProactiveMessage, f.pub.events[0].Type)
	assert.Equal(t, 1, f.pub.events[0].UnreadCount)
}

func TestDeliver_RedeliveryDoesNotDoubleCount(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.d.Deliver(t.Context(), f.notification("n1"))
	again := f.d.Deliver(t.Context(), f.notification("n1"))
	require.True(t, again.Success)
	assert.Equal(t, first.ExternalID, again.ExternalID)

	conv, err := f.convs.FindLatestOpen(t.Context(), f.e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadProactiveCount)
	assert.Equal(t, 1, f.entityUnread(t))

	// A different notification reuses the open conversation.
	require.True(t, f.d.Deliver(t.Context(), f.notification("n2")).Success)
	conv2, err := f.convs.FindLatestOpen(t.Context(), f.e.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, conv2.ID)
	assert.Equal(t, 2, conv2.UnreadProactiveCount)
}

func TestDeliver_PublishFailureIsBestEffort(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.pub.err = errors.NewStd("socket closed")

	res := f.d.Deliver(t.Context(), f.notification("n1"))
	assert.True(t, res.Success)
}

func TestMarkRead(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.True(t, f.d.Deliver(t.Context(), f.notification("n1")).Success)
	require.True(t, f.d.Deliver(t.Context(), f.notification("n2")).Success)
	conv, err := f.convs.FindLatestOpen(t.Context(), f.e.ID)
	require.NoError(t, err)

	res, err := f.d.MarkRead(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PreviousUnread)
	assert.ElementsMatch(t, []string{"n1", "n2"}, res.NotificationIDs)
	assert.Equal(t, 0, f.entityUnread(t))

	conv, err = f.convs.Get(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadProactiveCount)

	last := f.pub.events[len(f.pub.events)-1]
	assert.Equal(t, realtime.EventUnreadCount, last.Type)

	_, err = f.d.MarkRead(t.Context(), 9999)
	require.ErrorIs(t, err, repository.ErrConversationNotFound)
}
