package runlock

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLockerNilClient(t *testing.T) {
	assert.Nil(t, NewLocker(nil, "k", time.Minute))
}

func TestNewLockerDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	t.Cleanup(func() { _ = client.Close() })

	l := NewLocker(client, "", 0)
	require.NotNil(t, l)
	assert.Equal(t, defaultKey, l.key)
	assert.Equal(t, defaultTTL, l.ttl)

	custom := NewLocker(client, "ops:lock", time.Minute)
	assert.Equal(t, "ops:lock", custom.key)
	assert.Equal(t, time.Minute, custom.ttl)
}

func TestNilLockerIsSafe(t *testing.T) {
	var l *Locker

	_, ok, err := l.TryLock(context.Background())
	assert.False(t, ok)
	require.Error(t, err)

	assert.NoError(t, l.Release(context.Background(), "token"))
}
