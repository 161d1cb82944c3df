package jobs

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/auralink/proactive/internal/datastore/repository"
)

// Lease is a mutual-exclusion claim on a key that expires after a TTL, so a
// crashed holder cannot block others forever.
type Lease interface {
	// Acquire claims key for holder. It succeeds when the key is free,
	// expired or already held by holder, extending the TTL.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// Release frees key if holder still owns it.
	Release(ctx context.Context, key, holder string) error
}

// DBLease stores leases in the job_leases table.
type DBLease struct {
	repo repository.JobRepository
	now  func() time.Time
}

// NewDBLease creates a database-backed Lease.
func NewDBLease(repo repository.JobRepository) *DBLease {
	return &DBLease{repo: repo, now: time.Now}
}

// Acquire implements Lease.
func (l *DBLease) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	return l.repo.TryAcquireLease(ctx, key, holder, ttl, l.now().UTC())
}

// Release implements Lease.
func (l *DBLease) Release(ctx context.Context, key, holder string) error {
	return l.repo.ReleaseLease(ctx, key, holder)
}

const redisKeyPrefix = "proactive:lease:"

var (
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLease stores leases as Redis keys with a TTL, for deployments that
// run several processes against one database.
type RedisLease struct {
	client redis.UniversalClient
}

// NewRedisLease creates a Redis-backed Lease.
func NewRedisLease(client redis.UniversalClient) *RedisLease {
	return &RedisLease{client: client}
}

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	k := redisKeyPrefix + key
	ok, err := l.client.SetNX(ctx, k, holder, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	extended, err := extendScript.Run(ctx, l.client, []string{k}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return extended == 1, nil
}

// Release implements Lease.
func (l *RedisLease) Release(ctx context.Context, key, holder string) error {
	return releaseScript.Run(ctx, l.client, []string{redisKeyPrefix + key}, holder).Err()
}
