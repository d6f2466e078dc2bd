package limits

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Throttle caps concurrent calls per account across campaigns using Redis
// counters, so multiple engine instances sharing an account stay under the
// cap together.
type Throttle struct {
	client       *redis.Client
	defaultLimit int
	ttl          time.Duration
}

// NewThrottle constructs an account throttle.
func NewThrottle(client *redis.Client, defaultLimit int, ttl time.Duration) *Throttle {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Throttle{client: client, defaultLimit: defaultLimit, ttl: ttl}
}

// Acquire attempts to reserve a call slot for the account.
func (t *Throttle) Acquire(ctx context.Context, accountID string, limit int) (bool, error) {
	if accountID == "" {
		return true, nil
	}
	if limit <= 0 {
		limit = t.defaultLimit
	}
	if limit <= 0 {
		return true, nil
	}

	script := redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  current = redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

	res, err := script.Run(ctx, t.client, []string{t.key(accountID)}, limit, t.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("throttle acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees a previously acquired slot.
func (t *Throttle) Release(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	script := redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 0 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`)
	if _, err := script.Run(ctx, t.client, []string{t.key(accountID)}).Int(); err != nil {
		return fmt.Errorf("throttle release: %w", err)
	}
	return nil
}

func (t *Throttle) key(accountID string) string {
	return fmt.Sprintf("voicebatch:account:%s:active", accountID)
}
