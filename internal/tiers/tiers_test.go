package tiers

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
)

func TestLimitsTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tier     Tier
		freq     time.Duration
		perDay   int
		maxRules int
		channels []entities.Channel
	}{
		{Free, 30 * time.Minute, 10, 3, []entities.Channel{entities.ChannelInApp}},
		{Personal, 15 * time.Minute, 50, 10, []entities.Channel{entities.ChannelInApp, entities.ChannelWebPush}},
		{Family, 5 * time.Minute, 200, 25, []entities.Channel{entities.ChannelInApp, entities.ChannelWebPush, entities.ChannelSMS}},
		{Business, time.Minute, Unlimited, Unlimited, []entities.Channel{entities.ChannelInApp, entities.ChannelWebPush, entities.ChannelSMS, entities.ChannelWhatsApp}},
	}
	for _, tt := range tests {
		l := LimitsFor(tt.tier)
		assert.Equal(t, tt.freq, l.EvaluationFrequency, tt.tier)
		assert.Equal(t, tt.perDay, l.MaxNotificationsPerDay, tt.tier)
		assert.Equal(t, tt.maxRules, l.MaxRulesPerEntity, tt.tier)
		assert.Equal(t, tt.channels, l.Channels, tt.tier)
	}
	assert.Equal(t, Free, LimitsFor("GOLD").Tier)
}

func TestLimits_DueForEvaluation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	free := LimitsFor(Free)
	tenAgo := now.Add(-10 * time.Minute)
	thirtyOneAgo := now.Add(-31 * time.Minute)

	assert.False(t, free.DueForEvaluation(&tenAgo, now))
	assert.True(t, free.DueForEvaluation(&thirtyOneAgo, now))
	assert.True(t, free.DueForEvaluation(nil, now))
}

func TestLimits_Channels(t *testing.T) {
	t.Parallel()

	free := LimitsFor(Free)
	assert.Equal(t, []entities.Channel{entities.ChannelInApp}, free.FilterChannels([]entities.Channel{entities.ChannelSMS}))

	family := LimitsFor(Family)
	got := family.FilterChannels([]entities.Channel{entities.ChannelWhatsApp, entities.ChannelSMS, entities.ChannelInApp, entities.ChannelSMS})
	assert.Equal(t, []entities.Channel{entities.ChannelSMS, entities.ChannelInApp}, got)

	// Mutating the copy must not leak into the table.
	free.Channels[0] = entities.ChannelSMS
	assert.Equal(t, entities.ChannelInApp, LimitsFor(Free).Channels[0])
}

func TestLimits_Caps(t *testing.T) {
	t.Parallel()

	assert.True(t, LimitsFor(Free).DailyCapReached(10))
	assert.False(t, LimitsFor(Free).DailyCapReached(9))
	assert.False(t, LimitsFor(Business).DailyCapReached(1_000_000))

	rules := make([]entities.BehaviorRule, 5)
	assert.Len(t, TruncateRules(LimitsFor(Free), rules), 3)
	assert.Len(t, TruncateRules(LimitsFor(Business), rules), 5)
}

type stubSubscriptions struct {
	sub   *entities.Subscription
	err   error
	calls atomic.Int32
}

func (s *stubSubscriptions) GetByUser(_ context.Context, _ string) (*entities.Subscription, error) {
	s.calls.Add(1)
	return s.sub, s.err
}
func (s *stubSubscriptions) GetContact(_ context.Context, _ string) (*entities.UserContact, error) {
	return nil, repository.ErrContactNotFound
}
func (s *stubSubscriptions) SaveSubscription(_ context.Context, _ *entities.Subscription) error {
	return nil
}
func (s *stubSubscriptions) SaveContact(_ context.Context, _ *entities.UserContact) error { return nil }

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func TestResolver_GetTier(t *testing.T) {
	t.Parallel()

	t.Run("active subscription cached", func(t *testing.T) {
		t.Parallel()
		repo := &stubSubscriptions{sub: &entities.Subscription{UserID: "u1", Tier: "family", Active: true}}
		r := NewResolver(repo, time.Minute, testLogger())

		for range 3 {
			tier, err := r.GetTier(t.Context(), "u1")
			require.NoError(t, err)
			assert.Equal(t, Family, tier)
		}
		assert.Equal(t, int32(1), repo.calls.Load())

		r.Invalidate("u1")
		_, _ = r.GetTier(t.Context(), "u1")
		assert.Equal(t, int32(2), repo.calls.Load())
	})

	t.Run("inactive is free", func(t *testing.T) {
		t.Parallel()
		repo := &stubSubscriptions{sub: &entities.Subscription{Tier: "BUSINESS", Active: false}}
		tier, err := NewResolver(repo, time.Minute, testLogger()).GetTier(t.Context(), "u1")
		require.NoError(t, err)
		assert.Equal(t, Free, tier)
	})

	t.Run("missing is free", func(t *testing.T) {
		t.Parallel()
		repo := &stubSubscriptions{err: repository.ErrSubscriptionNotFound}
		tier, err := NewResolver(repo, time.Minute, testLogger()).GetTier(t.Context(), "u1")
		require.NoError(t, err)
		assert.Equal(t, Free, tier)
	})

	t.Run("lookup error is free with error", func(t *testing.T) {
		t.Parallel()
		boom := errors.NewStd("db down")
		repo := &stubSubscriptions{err: boom}
		tier, err := NewResolver(repo, time.Minute, testLogger()).GetTier(t.Context(), "u1")
		require.ErrorIs(t, err, boom)
		assert.Equal(t, Free, tier)
	})
}

func TestAll(t *testing.T) {
	t.Parallel()

	all := All()
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i].EvaluationFrequency, all[i-1].EvaluationFrequency)
		assert.Greater(t, len(all[i].Channels), len(all[i-1].Channels))
	}
}
