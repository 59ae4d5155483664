// models/ticket.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// QueueScope selects the matchmaking pool a ticket competes in.
type QueueScope string

const (
	ScopeGlobal   QueueScope = "global"
	ScopeTierOnly QueueScope = "tier_only"
	ScopePractice QueueScope = "practice"
	ScopeShadow   QueueScope = "shadow"
)

// ParseQueueScope accepts both the stored form ("tier_only") and the collaborator form
// ("TierOnly"). Unknown values report false.
func ParseQueueScope(s string) (QueueScope, bool) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	switch normalized {
	case "global":
		return ScopeGlobal, true
	case "tieronly":
		return ScopeTierOnly, true
	case "practice":
		return ScopePractice, true
	case "shadow":
		return ScopeShadow, true
	default:
		return "", false
	}
}

type TicketStatus string

const (
	TicketStatusQueued    TicketStatus = "queued"
	TicketStatusMatched   TicketStatus = "matched"
	TicketStatusCancelled TicketStatus = "cancelled"
)

// PartyMatchmakingTicket is one party's intent to be paired. Version is the optimistic
// concurrency token checked by every status write.
type PartyMatchmakingTicket struct {
	ID             string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PartyID        string       `json:"party_id" gorm:"index;not null"`
	LeaderPlayerID string       `json:"leader_player_id" gorm:"not null"`
	Mode           string       `json:"mode" gorm:"type:varchar(64);not null;index:idx_tickets_pool,priority:2"`
	Tier           int          `json:"tier" gorm:"not null;default:0"`
	Scope          QueueScope   `json:"scope" gorm:"type:varchar(16);not null;index:idx_tickets_pool,priority:3"`
	PartySize      int          `json:"party_size" gorm:"not null"`
	Status         TicketStatus `json:"status" gorm:"type:varchar(16);not null;index:idx_tickets_pool,priority:1"`
	CreatedAt      time.Time    `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time    `json:"updated_at"`
	ExpiresAt      time.Time    `json:"expires_at" gorm:"index;not null"`
	Version        int64        `json:"-" gorm:"not null;default:0"`
}

func (t *PartyMatchmakingTicket) IsQueued() bool {
	return t.Status == TicketStatusQueued
}

// IsExpired reports whether the ticket's TTL has run out at now.
func (t *PartyMatchmakingTicket) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *PartyMatchmakingTicket) MarkMatched() error {
	if t.Status != TicketStatusQueued {
		return t.transitionError(TicketStatusMatched)
	}
	t.Status = TicketStatusMatched
	return nil
}

// MarkCancelled is idempotent on an already cancelled ticket. Matched tickets cannot be
// cancelled this way.
func (t *PartyMatchmakingTicket) MarkCancelled() error {
	switch t.Status {
	case TicketStatusCancelled:
		return nil
	case TicketStatusQueued:
		t.Status = TicketStatusCancelled
		return nil
	default:
		return t.transitionError(TicketStatusCancelled)
	}
}

// AbortMatch cancels a Matched ticket whose match never started.
func (t *PartyMatchmakingTicket) AbortMatch() error {
	if t.Status != TicketStatusMatched {
		return t.transitionError(TicketStatusCancelled)
	}
	t.Status = TicketStatusCancelled
	return nil
}

func (t *PartyMatchmakingTicket) transitionError(to TicketStatus) error {
	return fmt.Errorf("%w: ticket %s %s -> %s", ErrInvalidTransition, t.ID, t.Status, to)
}
