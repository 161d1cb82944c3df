package jobs

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/testutil"
)

func TestTracker_Lifecycle(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(repository.NewJobRepository(testutil.NewTestDB(t)), nil)

	good, err := tracker.Start(t.Context(), TypeRuleEvaluation)
	require.NoError(t, err)
	assert.Equal(t, entities.JobRunning, good.Status)
	require.NoError(t, tracker.Complete(t.Context(), good.ID, map[string]any{"processed": 4}))

	bad, err := tracker.Start(t.Context(), TypeRuleEvaluation)
	require.NoError(t, err)
	require.NoError(t, tracker.Fail(t.Context(), bad.ID, errors.NewStd("entity listing failed"), nil))

	got, err := tracker.Get(t.Context(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.JobFailed, got.Status)
	assert.Equal(t, "entity listing failed", got.Error)
	assert.NotNil(t, got.CompletedAt)

	// Finishing twice is a job error.
	err = tracker.Complete(t.Context(), good.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryJob))

	all, err := tracker.List(t.Context(), repository.JobFilter{Type: TypeRuleEvaluation})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	failed, err := tracker.List(t.Context(), repository.JobFilter{Status: entities.JobFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, bad.ID, failed[0].ID)
}

func TestDBLease(t *testing.T) {
	t.Parallel()
	lease := NewDBLease(repository.NewJobRepository(testutil.NewTestDB(t)))
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	lease.now = func() time.Time { return now }

	ok, err := lease.Acquire(t.Context(), TypeRuleEvaluation, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lease.Acquire(t.Context(), TypeRuleEvaluation, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lease.Release(t.Context(), TypeRuleEvaluation, "a"))
	ok, err = lease.Acquire(t.Context(), TypeRuleEvaluation, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Expired leases can be taken over.
	now = now.Add(2 * time.Minute)
	ok, err = lease.Acquire(t.Context(), TypeRuleEvaluation, "c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLease(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	lease := NewRedisLease(client)

	ok, err := lease.Acquire(t.Context(), TypeRuleEvaluation, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lease.Acquire(t.Context(), TypeRuleEvaluation, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// The holder can re-acquire, which extends the TTL.
	mr.FastForward(30 * time.Second)
	ok, err = lease.Acquire(t.Context(), TypeRuleEvaluation, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(redisKeyPrefix+TypeRuleEvaluation))

	// Releasing with the wrong holder is a no-op.
	require.NoError(t, lease.Release(t.Context(), TypeRuleEvaluation, "b"))
	assert.True(t, mr.Exists(redisKeyPrefix+TypeRuleEvaluation))

	require.NoError(t, lease.Release(t.Context(), TypeRuleEvaluation, "a"))
	assert.False(t, mr.Exists(redisKeyPrefix+TypeRuleEvaluation))

	ok, err = lease.Acquire(t.Context(), TypeRuleEvaluation, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = lease.Acquire(t.Context(), TypeRuleEvaluation, "c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
