// models/invite.go
package models

import (
	"fmt"
	"time"
)

type InviteStatus string

const (
	InviteStatusPending   InviteStatus = "pending"
	InviteStatusAccepted  InviteStatus = "accepted"
	InviteStatusDeclined  InviteStatus = "declined"
	InviteStatusCancelled InviteStatus = "cancelled"
)

// PartyInvite is a leader's invitation for a friend to join the party.
type PartyInvite struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PartyID      string       `json:"party_id" gorm:"index;not null"`
	FromPlayerID string       `json:"from_player_id" gorm:"not null"`
	ToPlayerID   string       `json:"to_player_id" gorm:"index;not null"`
	Status       InviteStatus `json:"status" gorm:"type:varchar(16);index;not null;default:'pending'"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	RespondedAt  *time.Time   `json:"responded_at,omitempty"`
}

func (i *PartyInvite) IsPending() bool {
	return i.Status == InviteStatusPending
}

// Accept is idempotent on an already accepted invite.
func (i *PartyInvite) Accept(now time.Time) error {
	return i.resolve(InviteStatusAccepted, now)
}

// Decline is idempotent on an already declined invite.
func (i *PartyInvite) Decline(now time.Time) error {
	return i.resolve(InviteStatusDeclined, now)
}

// Cancel is idempotent on an already cancelled invite.
func (i *PartyInvite) Cancel(now time.Time) error {
	return i.resolve(InviteStatusCancelled, now)
}

func (i *PartyInvite) resolve(to InviteStatus, now time.Time) error {
	if i.Status == to {
		return nil
	}
	if i.Status != InviteStatusPending {
		return fmt.Errorf("%w: invite %s %s -> %s", ErrInvalidTransition, i.ID, i.Status, to)
	}
	i.Status = to
	i.RespondedAt = &now
	return nil
}
