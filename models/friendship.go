package models

// FriendshipStatusAccepted is the only status that allows party invites.
const FriendshipStatusAccepted = "accepted"

// Friendship is a local mirror of the social service's friend edges.
// Populated by the friend sync worker; never written by party flows.
type Friendship struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PlayerID string `json:"player_id" gorm:"not null;uniqueIndex:idx_friend_edge"`
	FriendID string `json:"friend_id" gorm:"not null;uniqueIndex:idx_friend_edge;index"`
	Status   string `json:"status" gorm:"type:varchar(16);not null;index"`

	Timestamps
}

// All lists every model the service migrates at startup.
func All() []any {
	return []any{
		&Party{},
		&PartyMember{},
		&PartyInvite{},
		&PartyMatchmakingTicket{},
		&PartyMatchLink{},
		&PartyMatchMember{},
		&Friendship{},
	}
}
