package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, normalize([]string{"c", "a", "", "b", "a"}))
}

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "ledger:p:c", "slot:p:2024-03-10:09:00")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalMutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewLocal())
}

func TestLocalContextTimeout(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k1", "k2")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))

	unlock()
	unlock()
	again, err := l.Lock(context.Background(), "k1", "k2")
	require.NoError(t, err)
	again()
	assert.Empty(t, l.keys)
}

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, 5*time.Second, 2*time.Second), mr
}

func TestRedisMutualExclusion(t *testing.T) {
	l, _ := newRedisLocker(t)
	exerciseMutualExclusion(t, l)
}

func TestRedisReleaseOnlyOwnToken(t *testing.T) {
	l, mr := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "slot:x")
	require.NoError(t, err)
	assert.True(t, mr.Exists("bookline:lock:slot:x"))

	// Simulate expiry and takeover by another holder.
	mr.Set("bookline:lock:slot:x", "someone-else")
	unlock()
	got, err := mr.Get("bookline:lock:slot:x")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisWaitTimeout(t *testing.T) {
	l, mr := newRedisLocker(t)
	l.Wait = 50 * time.Millisecond
	require.NoError(t, mr.Set("bookline:lock:b", "held"))

	_, err := l.Lock(context.Background(), "a", "b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, mr.Exists("bookline:lock:a"), "partially acquired keys are released")
}

func TestRedisRetriesUntilReleased(t *testing.T) {
	l, mr := newRedisLocker(t)
	l.Retry = 5 * time.Millisecond
	require.NoError(t, mr.Set("bookline:lock:slot:y", "held"))
	go func() {
		time.Sleep(40 * time.Millisecond)
		mr.Del("bookline:lock:slot:y")
	}()

	started := time.Now()
	unlock, err := l.Lock(context.Background(), "slot:y")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)
	assert.True(t, mr.Exists("bookline:lock:slot:y"))
	unlock()
	assert.False(t, mr.Exists("bookline:lock:slot:y"))
}
