package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"party-matchmaking/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func subscribeReady(t *testing.T, ctx context.Context, n *RedisNotifier, playerID string) *redis.PubSub {
	t.Helper()
	sub := n.Subscribe(ctx, playerID)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	return sub
}

func receiveEvent(t *testing.T, ctx context.Context, sub *redis.PubSub) PartyEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var event PartyEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	return event
}

func TestRedisNotifierPartyMatched(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	notifier := NewRedisNotifier(client, clockwork.NewFakeClockAt(testEpoch))
	alice := subscribeReady(t, ctx, notifier, "alice")
	bob := subscribeReady(t, ctx, notifier, "bob")

	notifier.NotifyPartyMatched(ctx, PartyMatchedEvent{
		PartyID:         "party-a",
		OpponentPartyID: "party-b",
		MatchID:         "match-1",
		Mode:            "ranked",
		Tier:            3,
		Scope:           models.ScopeGlobal,
		TicketID:        "ticket-a",
	}, []string{"alice", "bob"})

	for _, sub := range []*redis.PubSub{alice, bob} {
		event := receiveEvent(t, ctx, sub)
		assert.Equal(t, EventPartyMatched, event.Type)
		assert.Equal(t, "party-a", event.PartyID)
		assert.True(t, event.OccurredAt.Equal(testEpoch))

		var data PartyMatchedEvent
		require.NoError(t, json.Unmarshal(event.Data, &data))
		assert.Equal(t, "party-b", data.OpponentPartyID)
		assert.Equal(t, "match-1", data.MatchID)
		assert.Equal(t, "ticket-a", data.TicketID)
		assert.Equal(t, 3, data.Tier)
	}
}

func TestRedisNotifierRosterAndClose(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	notifier := NewRedisNotifier(client, clockwork.NewFakeClockAt(testEpoch))
	sub := subscribeReady(t, ctx, notifier, "alice")

	roster := Roster{
		Party: models.Party{ID: "party-a", LeaderPlayerID: "alice", Status: models.PartyStatusOpen},
		Members: []models.PartyMember{
			{PartyID: "party-a", PlayerID: "alice"},
			{PartyID: "party-a", PlayerID: "bob"},
		},
	}
	notifier.NotifyRosterUpdated(ctx, roster, roster.MemberIDs(), []string{"alice"})
	notifier.NotifyPartyClosed(ctx, "party-a", "match-9", []string{"alice"}, CloseReasonMatchEnded)

	event := receiveEvent(t, ctx, sub)
	assert.Equal(t, EventPartyRosterUpdated, event.Type)
	var got Roster
	require.NoError(t, json.Unmarshal(event.Data, &got))
	assert.Equal(t, []string{"alice"}, got.Online)
	assert.Len(t, got.Members, 2)

	event = receiveEvent(t, ctx, sub)
	assert.Equal(t, EventPartyClosed, event.Type)
	var closed partyClosedData
	require.NoError(t, json.Unmarshal(event.Data, &closed))
	assert.Equal(t, "match-9", closed.MatchID)
	assert.Equal(t, CloseReasonMatchEnded, closed.Reason)
}

func TestRedisNotifierSurvivesRedisOutage(t *testing.T) {
	mr, client := newTestRedis(t)
	notifier := NewRedisNotifier(client, clockwork.NewFakeClockAt(testEpoch))
	mr.Close()

	assert.NotPanics(t, func() {
		notifier.NotifyPartyClosed(context.Background(), "party-a", "", []string{"alice"}, CloseReasonEmpty)
	})
}
