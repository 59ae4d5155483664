package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPresence(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	presence := NewRedisPresence(client, 30*time.Second)

	require.NoError(t, presence.MarkOnline(ctx, "carol"))
	require.NoError(t, presence.MarkOnline(ctx, "alice"))

	online, err := presence.GetOnline(ctx, []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, online)
	assert.Equal(t, 30*time.Second, mr.TTL(presenceKey("alice")))

	require.NoError(t, presence.MarkOffline(ctx, "carol"))
	online, err = presence.GetOnline(ctx, []string{"alice", "carol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, online)

	mr.FastForward(31 * time.Second)
	online, err = presence.GetOnline(ctx, []string{"alice", "carol"})
	require.NoError(t, err)
	assert.Empty(t, online)

	online, err = presence.GetOnline(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, online)
	assert.Empty(t, online)
}

func TestRedisPresenceDefaultTTL(t *testing.T) {
	_, client := newTestRedis(t)
	assert.Equal(t, DefaultPresenceTTL, NewRedisPresence(client, 0).TTL)
}
