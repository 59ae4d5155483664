// services/friend_graph.go
package services

import (
	"context"

	"party-matchmaking/models"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"
)

// GormFriendGraph answers friendship questions from the locally mirrored friendships table.
type GormFriendGraph struct {
	DB *gorm.DB
}

func NewGormFriendGraph(db *gorm.DB) *GormFriendGraph {
	return &GormFriendGraph{DB: db}
}

// AreFriends is symmetric: an accepted edge in either direction counts.
func (g *GormFriendGraph) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var count int64
	err := g.DB.WithContext(ctx).Model(&models.Friendship{}).
		Where("status = ?", models.FriendshipStatusAccepted).
		Where("((player_id = ? AND friend_id = ?) OR (player_id = ? AND friend_id = ?))", a, b, b, a).
		Count(&count).Error
	if err != nil {
		return false, eris.Wrap(err, "failed to query friendships")
	}
	return count > 0, nil
}
