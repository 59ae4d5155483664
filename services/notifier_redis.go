// services/notifier_redis.go
package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	EventPartyMatched       = "party.matched"
	EventPartyRosterUpdated = "party.roster_updated"
	EventPartyClosed        = "party.closed"
)

// PartyEventsChannel is the pub/sub channel carrying one player's party events.
func PartyEventsChannel(playerID string) string {
	return "party-events:" + playerID
}

// PartyEvent is the envelope published for every party notification.
type PartyEvent struct {
	Type       string          `json:"type"`
	PartyID    string          `json:"party_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type partyClosedData struct {
	PartyID string `json:"party_id"`
	MatchID string `json:"match_id,omitempty"`
	Reason  string `json:"reason"`
}

// RedisNotifier publishes party events on per-player Redis channels.
type RedisNotifier struct {
	Client redis.UniversalClient
	Clock  clockwork.Clock
}

func NewRedisNotifier(client redis.UniversalClient, clock clockwork.Clock) *RedisNotifier {
	return &RedisNotifier{Client: client, Clock: clock}
}

func (n *RedisNotifier) NotifyPartyMatched(ctx context.Context, event PartyMatchedEvent, memberIDs []string) {
	n.publish(ctx, EventPartyMatched, event.PartyID, event, memberIDs)
}

func (n *RedisNotifier) NotifyRosterUpdated(ctx context.Context, roster Roster, memberIDs, onlineIDs []string) {
	if onlineIDs == nil {
		onlineIDs = []string{}
	}
	roster.Online = onlineIDs
	n.publish(ctx, EventPartyRosterUpdated, roster.Party.ID, roster, memberIDs)
}

func (n *RedisNotifier) NotifyPartyClosed(ctx context.Context, partyID, matchID string, memberIDs []string, reason string) {
	n.publish(ctx, EventPartyClosed, partyID, partyClosedData{PartyID: partyID, MatchID: matchID, Reason: reason}, memberIDs)
}

func (n *RedisNotifier) publish(ctx context.Context, eventType, partyID string, data any, playerIDs []string) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to encode party event")
		return
	}
	payload, err := json.Marshal(PartyEvent{
		Type:       eventType,
		PartyID:    partyID,
		OccurredAt: n.Clock.Now().UTC(),
		Data:       raw,
	})
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to encode party event")
		return
	}

	for _, id := range playerIDs {
		if err := n.Client.Publish(ctx, PartyEventsChannel(id), payload).Err(); err != nil {
			log.Warn().Err(err).Str("event", eventType).Str("player_id", id).Str("party_id", partyID).Msg("failed to publish party event")
		}
	}
}

// Subscribe opens the player's event channel. The caller closes the returned PubSub.
func (n *RedisNotifier) Subscribe(ctx context.Context, playerID string) *redis.PubSub {
	return n.Client.Subscribe(ctx, PartyEventsChannel(playerID))
}
