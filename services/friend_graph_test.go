package services

import (
	"context"
	"testing"

	"party-matchmaking/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormFriendGraph(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	graph := NewGormFriendGraph(db)

	require.NoError(t, db.Create(&[]models.Friendship{
		{ID: "f1", PlayerID: "alice", FriendID: "bob", Status: models.FriendshipStatusAccepted},
		{ID: "f2", PlayerID: "alice", FriendID: "carol", Status: "pending"},
		{ID: "f3", PlayerID: "dave", FriendID: "erin", Status: models.FriendshipStatusAccepted},
	}).Error)

	tests := []struct {
		a, b string
		want bool
	}{
		{"alice", "bob", true},
		{"bob", "alice", true},
		{"alice", "carol", false},
		{"alice", "dave", false},
		{"erin", "dave", true},
		{"alice", "erin", false},
	}
	for _, tt := range tests {
		got, err := graph.AreFriends(ctx, tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s/%s", tt.a, tt.b)
	}
}
