package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis implements Locker with SET NX PX per key.
type Redis struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Wait   time.Duration
	Retry  time.Duration
}

func NewRedis(client *redis.Client, ttl, wait time.Duration) *Redis {
	return &Redis{Client: client, Prefix: "bookline:lock:", TTL: ttl, Wait: wait, Retry: 20 * time.Millisecond}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	if r.Client == nil {
		return nil, errors.New("redis lock: client not configured")
	}
	keys = normalize(keys)
	ttl := r.TTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	retry := r.Retry
	if retry <= 0 {
		retry = 20 * time.Millisecond
	}
	waitCtx := ctx
	if r.Wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.Wait)
		defer cancel()
	}

	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	token := uuid.NewString()
	var held []string
	release := func() {
		// Release on a fresh context so a cancelled request still frees its keys.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(relCtx, r.Client, []string{r.Prefix + held[i]}, token).Err()
		}
		held = nil
	}
	for _, k := range keys {
		for {
			ok, err := r.Client.SetNX(waitCtx, r.Prefix+k, token, ttl).Result()
			if err != nil && waitCtx.Err() == nil {
				release()
				return nil, fmt.Errorf("redis lock %s: %w", k, err)
			}
			if ok {
				held = append(held, k)
				break
			}
			select {
			case <-ticker.C:
			case <-waitCtx.Done():
				release()
				return nil, fmt.Errorf("%w: %s", ErrTimeout, k)
			}
		}
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}
