package localstore

import (
	"context"
	"time"

	"calldesk/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeasePrefix = "calldesk:live_call:"
	DefaultLeaseTTL    = 12 * time.Hour
)

// Lease is a one-slot cap on live calls for one agent, shared by every desk
// process pointed at the same Redis. The TTL frees a slot left by a crashed process.
type Lease struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewLease(rdb *redis.Client, agentID string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Lease{rdb: rdb, key: DefaultLeasePrefix + agentID, ttl: ttl}
}

func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key, 1, l.ttl)
}

func (l *Lease) Release(ctx context.Context) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key)
}
