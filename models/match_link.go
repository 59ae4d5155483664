// models/match_link.go
package models

import "time"

type MatchLinkStatus string

const (
	MatchLinkStatusMatched MatchLinkStatus = "matched"
	MatchLinkStatusClosed  MatchLinkStatus = "closed"
)

// PartyMatchLink binds a party to the live match it was paired into.
type PartyMatchLink struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PartyID     string          `json:"party_id" gorm:"not null;uniqueIndex:idx_party_match_links_pair"`
	MatchID     string          `json:"match_id" gorm:"not null;index;uniqueIndex:idx_party_match_links_pair"`
	Status      MatchLinkStatus `json:"status" gorm:"type:varchar(16);not null;default:'matched'"`
	CreatedAt   time.Time       `json:"created_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
	CloseReason string          `json:"close_reason,omitempty"`
}

// MarkClosed is a no-op on a closed link.
func (l *PartyMatchLink) MarkClosed(now time.Time, reason string) bool {
	if l.Status == MatchLinkStatusClosed {
		return false
	}
	l.Status = MatchLinkStatusClosed
	l.ClosedAt = &now
	l.CloseReason = reason
	return true
}

type MemberRole string

const (
	MemberRoleLeader MemberRole = "leader"
	MemberRoleMember MemberRole = "member"
)

// PartyMatchMember is the write-once record of who was in a party when its match started.
type PartyMatchMember struct {
	PartyID   string     `json:"party_id" gorm:"primaryKey;type:varchar(36)"`
	MatchID   string     `json:"match_id" gorm:"primaryKey;index"`
	PlayerID  string     `json:"player_id" gorm:"primaryKey"`
	Role      MemberRole `json:"role" gorm:"type:varchar(16);not null"`
	CreatedAt time.Time  `json:"created_at"`
}

// MatchRosterSnapshot is the archived view of one pairing: both parties and their members.
type MatchRosterSnapshot struct {
	MatchID   string             `json:"match_id"`
	Mode      string             `json:"mode"`
	Tier      int                `json:"tier"`
	Scope     QueueScope         `json:"scope"`
	HostID    string             `json:"host_player_id"`
	StartedAt time.Time          `json:"started_at"`
	Members   []PartyMatchMember `json:"members"`
}
