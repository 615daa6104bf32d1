package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookline/internal/config"
	"bookline/internal/lock"
)

func TestOpenDefaultsToLocalLocker(t *testing.T) {
	rt, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer rt.Close()

	_, ok := rt.Engine.Locker.(*lock.Local)
	assert.True(t, ok, "expected local locker, got %T", rt.Engine.Locker)
	assert.NotNil(t, rt.Engine.Metrics)

	b, err := rt.Engine.Balance(context.Background(), "pro", "cli")
	require.NoError(t, err)
	assert.Zero(t, b.Available)
}

func TestOpenWithRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Lock.Backend = "redis"
	cfg.Lock.Redis.Addr = mr.Addr()

	rt, err := OpenWithConfig(context.Background(), t.TempDir(), cfg)
	require.NoError(t, err)
	defer rt.Close()

	_, ok := rt.Engine.Locker.(*lock.Redis)
	require.True(t, ok, "expected redis locker, got %T", rt.Engine.Locker)

	unlock, err := rt.Engine.Locker.Lock(context.Background(), "ledger:pro:cli")
	require.NoError(t, err)
	assert.True(t, mr.Exists("bookline:lock:ledger:pro:cli"))
	unlock()
	assert.False(t, mr.Exists("bookline:lock:ledger:pro:cli"))
}

func TestNewLockerRejectsUnknownBackend(t *testing.T) {
	_, _, err := NewLocker(context.Background(), config.LockConfig{Backend: "zookeeper"})
	assert.ErrorContains(t, err, "unknown lock backend")
}

func TestNewLockerRedisUnreachable(t *testing.T) {
	lc := config.LockConfig{Backend: "redis"}
	lc.Redis.Addr = "127.0.0.1:1"
	_, _, err := NewLocker(context.Background(), lc)
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadEnv(dir), "missing .env is not an error")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BOOKLINE_TEST_ENV_VALUE=from-file\n"), 0o644))
	t.Setenv("BOOKLINE_TEST_ENV_VALUE", "")
	os.Unsetenv("BOOKLINE_TEST_ENV_VALUE")
	require.NoError(t, LoadEnv(dir))
	assert.Equal(t, "from-file", os.Getenv("BOOKLINE_TEST_ENV_VALUE"))
}
