// models/party.go
package models

import (
	"errors"
	"fmt"
	"time"
)

// MaxPartySize caps membership. Parties are duos in this version.
const MaxPartySize = 2

// MinQueueSize is the member count a party needs before it can enqueue.
const MinQueueSize = 2

type PartyStatus string

const (
	PartyStatusOpen    PartyStatus = "open"
	PartyStatusQueued  PartyStatus = "queued"
	PartyStatusMatched PartyStatus = "matched"
	PartyStatusClosed  PartyStatus = "closed"
)

// ErrInvalidTransition is returned by the Mark* methods when the current status does not
// allow the requested change.
var ErrInvalidTransition = errors.New("invalid status transition")

// Party is a small group of players that queues and matches as one unit.
// Status only changes through the methods below.
type Party struct {
	ID             string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LeaderPlayerID string      `json:"leader_player_id" gorm:"index;not null"`
	Status         PartyStatus `json:"status" gorm:"type:varchar(16);index;not null;default:'open'"`
	ClosedAt       *time.Time  `json:"closed_at,omitempty"`
	Version        int64       `json:"-" gorm:"not null;default:0"`

	Timestamps
}

// PartyMember is a (party, player) pair. The unique index on player_id means a player can
// hold at most one membership row; rows are deleted when a party closes.
type PartyMember struct {
	PartyID  string    `json:"party_id" gorm:"primaryKey;type:varchar(36)"`
	PlayerID string    `json:"player_id" gorm:"primaryKey;uniqueIndex:idx_party_members_player"`
	JoinedAt time.Time `json:"joined_at" gorm:"not null"`
}

func (p *Party) IsActive() bool {
	return p.Status != PartyStatusClosed
}

func (p *Party) IsLeader(playerID string) bool {
	return p.LeaderPlayerID == playerID
}

// MarkQueued moves an Open party into the matchmaking queue.
func (p *Party) MarkQueued() error {
	if p.Status != PartyStatusOpen {
		return p.transitionError(PartyStatusQueued)
	}
	p.Status = PartyStatusQueued
	return nil
}

// MarkOpen takes a Queued party back out of the queue. Already Open is a no-op.
func (p *Party) MarkOpen() error {
	switch p.Status {
	case PartyStatusOpen:
		return nil
	case PartyStatusQueued:
		p.Status = PartyStatusOpen
		return nil
	default:
		return p.transitionError(PartyStatusOpen)
	}
}

func (p *Party) MarkMatched() error {
	if p.Status != PartyStatusQueued {
		return p.transitionError(PartyStatusMatched)
	}
	p.Status = PartyStatusMatched
	return nil
}

// AbortMatch returns a Matched party to Open when the match could not be started.
func (p *Party) AbortMatch() error {
	if p.Status != PartyStatusMatched {
		return p.transitionError(PartyStatusOpen)
	}
	p.Status = PartyStatusOpen
	return nil
}

// MarkClosed is terminal and reachable from every status. Closing twice keeps the first
// ClosedAt.
func (p *Party) MarkClosed(now time.Time) {
	if p.Status == PartyStatusClosed {
		return
	}
	p.Status = PartyStatusClosed
	p.ClosedAt = &now
}

// PromoteLeader hands leadership to another player. The caller is responsible for the
// player being a member.
func (p *Party) PromoteLeader(playerID string) error {
	if p.Status == PartyStatusClosed || playerID == "" {
		return fmt.Errorf("%w: cannot promote %q in %s party %s", ErrInvalidTransition, playerID, p.Status, p.ID)
	}
	p.LeaderPlayerID = playerID
	return nil
}

func (p *Party) transitionError(to PartyStatus) error {
	return fmt.Errorf("%w: party %s %s -> %s", ErrInvalidTransition, p.ID, p.Status, to)
}
