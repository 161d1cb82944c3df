//go:build integration

package repository_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/testutil/containers"
)

// TestMySQL runs the dialect-sensitive repository paths against a real
// MySQL server. Subtests share one container and run sequentially.
func TestMySQL(t *testing.T) {
	mysql := containers.NewMySQLContainer(t.Context(), t)

	t.Run("candidates with json columns", func(t *testing.T) {
		db := mysql.OpenManager(t.Context(), t).DB()
		repo := repository.NewEntityRepository(db)

		e := &entities.Entity{UserID: "u1", Name: "aura", Enabled: true, ProactiveEnabled: true, SenseIDs: []string{"weather", "calendar"}}
		require.NoError(t, repo.CreateEntity(t.Context(), e))
		require.NoError(t, repo.CreateRule(t.Context(), &entities.BehaviorRule{
			EntityID: e.ID,
			Name:     "cold",
			Enabled:  true,
			Trigger: entities.Trigger{
				Type:       entities.TriggerSimple,
				SensorPath: "weather.temperature",
				Operator:   entities.OpLess,
				Value:      5.0,
			},
			Action: entities.RuleAction{DefaultMessage: "cold", Channels: []entities.Channel{entities.ChannelInApp, entities.ChannelSMS}},
		}))

		got, err := repo.ListCandidates(t.Context())
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []string{"weather", "calendar"}, got[0].SenseIDs)
		require.Len(t, got[0].Rules, 1)
		assert.Equal(t, "weather.temperature", got[0].Rules[0].Trigger.SensorPath)
		assert.Equal(t, entities.OpLess, got[0].Rules[0].Trigger.Operator)
		assert.Equal(t, []entities.Channel{entities.ChannelInApp, entities.ChannelSMS}, got[0].Rules[0].Action.Channels)
	})

	t.Run("notification transition is compare and set", func(t *testing.T) {
		repo := repository.NewNotificationRepository(mysql.OpenManager(t.Context(), t).DB())

		n := &entities.QueuedNotification{
			ID:              "n1",
			EntityID:        1,
			UserID:          "u1",
			Message:         "hello",
			Status:          entities.StatusQueued,
			DeliveryChannel: entities.ChannelInApp,
			Channels:        []entities.Channel{entities.ChannelInApp},
			CreatedAt:       time.Now().UTC(),
		}
		require.NoError(t, repo.Create(t.Context(), n))
		require.NoError(t, repo.Transition(t.Context(), "n1", entities.StatusQueued, entities.StatusDelivered,
			map[string]any{"delivered_at": time.Now().UTC()}))
		require.ErrorIs(t,
			repo.Transition(t.Context(), "n1", entities.StatusQueued, entities.StatusFailed, nil),
			repository.ErrStatusConflict)
	})

	t.Run("lease upsert", func(t *testing.T) {
		repo := repository.NewJobRepository(mysql.OpenManager(t.Context(), t).DB())
		now := time.Now().UTC().Truncate(time.Second)

		ok, err := repo.TryAcquireLease(t.Context(), "rule-evaluation", "a", time.Minute, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.TryAcquireLease(t.Context(), "rule-evaluation", "b", time.Minute, now.Add(10*time.Second))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.TryAcquireLease(t.Context(), "rule-evaluation", "b", time.Minute, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("duplicate proactive message", func(t *testing.T) {
		repo := repository.NewConversationRepository(mysql.OpenManager(t.Context(), t).DB())

		conv := &entities.Conversation{SessionID: "s1", EntityID: 3, UserID: "u1", Open: true}
		require.NoError(t, repo.Create(t.Context(), conv))

		id := "n1"
		msg := func() *entities.ConversationMessage {
			return &entities.ConversationMessage{ConversationID: conv.ID, NotificationID: &id, Role: entities.RoleAssistant, Content: "hi", Proactive: true, Status: entities.StatusDelivered}
		}
		require.NoError(t, repo.AppendProactiveMessage(t.Context(), msg()))
		require.ErrorIs(t, repo.AppendProactiveMessage(t.Context(), msg()), repository.ErrDuplicateMessage)

		res, err := repo.MarkRead(t.Context(), conv.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"n1"}, res.NotificationIDs)
	})
}
