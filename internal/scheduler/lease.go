package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// leaseTTL is the ownership window a scheduler instance holds over a match
// before it must renew; spec.md §4.2 fixes this at 60 seconds (twelve
// candle ticks of slack at the five-second cadence).
const leaseTTL = 60 * time.Second

// renewScript atomically renews a lease only if this instance still holds
// it, so a stale instance that thinks it owns a match can never clobber the
// new owner's lease after a failover. Standard Redlock-style
// compare-and-renew: GET then conditional PEXPIRE in one round trip.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// releaseScript releases a lease only if this instance still holds it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// LeaseStore grants at-most-one-owner-per-match leases backed by Redis, so
// exactly one instance runs a given match's scheduler at a time (spec.md
// §4.2's ownership model). Grounded in FOTONPHOTOS-PULSEINTEL's
// `publisher.RedisPublisher` for the go-redis client-wrapping shape; the
// NX-acquire/Lua-renew lease technique itself has no corpus precedent and
// is the standard Redlock single-key pattern.
type LeaseStore struct {
	rdb        *redis.Client
	instanceID string
}

func NewLeaseStore(rdb *redis.Client, instanceID string) *LeaseStore {
	return &LeaseStore{rdb: rdb, instanceID: instanceID}
}

func leaseKey(matchID string) string {
	return "candleduel:lease:" + matchID
}

// Acquire attempts to become (or remain) the owner of matchID's scheduler.
// It succeeds if no lease exists (first claim) or if this instance already
// holds it (renewal).
func (l *LeaseStore) Acquire(ctx context.Context, matchID string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, leaseKey(matchID), l.instanceID, leaseTTL).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return l.Renew(ctx, matchID)
}

// Renew extends this instance's lease. It returns false without error if
// another instance currently holds the lease (lost ownership — the caller
// must stop ticking).
func (l *LeaseStore) Renew(ctx context.Context, matchID string) (bool, error) {
	res, err := l.rdb.Eval(ctx, renewScript, []string{leaseKey(matchID)}, l.instanceID, int(leaseTTL/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Release gives up this instance's lease early, e.g. once a match finishes.
func (l *LeaseStore) Release(ctx context.Context, matchID string) error {
	_, err := l.rdb.Eval(ctx, releaseScript, []string{leaseKey(matchID)}, l.instanceID).Result()
	return err
}

// IsExpired reports whether no instance currently holds matchID's lease —
// used by a recovering instance to decide whether it may attempt to resume
// a match whose owner crashed.
func (l *LeaseStore) IsExpired(ctx context.Context, matchID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, leaseKey(matchID)).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
