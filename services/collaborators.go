// services/collaborators.go
package services

import (
	"context"
	"time"

	"party-matchmaking/models"
)

// EnforcementDecision is the per-player verdict from the enforcement service.
type EnforcementDecision struct {
	CanStartMatch bool
	QueueScope    models.QueueScope
}

type Enforcer interface {
	Evaluate(ctx context.Context, playerID string) (EnforcementDecision, error)
}

// StartedMatch identifies the live match created for a pairing.
type StartedMatch struct {
	MatchID   string
	StartedAt time.Time
}

type MatchStarter interface {
	StartMatch(ctx context.Context, hostPlayerID, modeLabel string) (StartedMatch, error)
}

type Presence interface {
	GetOnline(ctx context.Context, playerIDs []string) ([]string, error)
}

type FriendGraph interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// RosterArchiver stores the roster snapshot of a started match.
type RosterArchiver interface {
	ArchiveRoster(ctx context.Context, snapshot models.MatchRosterSnapshot) error
}

// PartyMatchedEvent is delivered to every member of one side of a pairing.
type PartyMatchedEvent struct {
	PartyID         string            `json:"party_id"`
	OpponentPartyID string            `json:"opponent_party_id"`
	MatchID         string            `json:"match_id"`
	Mode            string            `json:"mode"`
	Tier            int               `json:"tier"`
	Scope           models.QueueScope `json:"scope"`
	TicketID        string            `json:"ticket_id"`
}

// Roster is a party with its members ordered by join time.
type Roster struct {
	Party   models.Party         `json:"party"`
	Members []models.PartyMember `json:"members"`
	Online  []string             `json:"online_member_ids"`
}

func (r Roster) MemberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.PlayerID)
	}
	return ids
}

// Notifier fans party events out to players. Delivery is best effort; implementations log
// their own failures.
type Notifier interface {
	NotifyPartyMatched(ctx context.Context, event PartyMatchedEvent, memberIDs []string)
	NotifyRosterUpdated(ctx context.Context, roster Roster, memberIDs, onlineIDs []string)
	NotifyPartyClosed(ctx context.Context, partyID, matchID string, memberIDs []string, reason string)
}
