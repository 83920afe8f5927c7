package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultLeaseKey is shared by every instance sweeping the same database.
const DefaultLeaseKey = "lease:reservation-sweeper"

// releaseScript deletes the key only while it still holds our token, so an
// instance whose lease already expired cannot drop a successor's lease.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLease elects one sweeper per tick across instances.
type SweepLease struct {
	client goredis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewSweepLease returns a lease that lapses after ttl if never released.
// ttl should stay below the sweep interval.
func NewSweepLease(client goredis.UniversalClient, key string, ttl time.Duration) *SweepLease {
	if key == "" {
		key = DefaultLeaseKey
	}
	return &SweepLease{client: client, key: key, ttl: ttl}
}

func (l *SweepLease) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire sweep lease: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}
	return release, true, nil
}
