package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSelectNewLeader(t *testing.T) {
	assert.Empty(t, SelectNewLeader("party-1", nil, 1))
	assert.Equal(t, "bob", SelectNewLeader("party-1", []string{"bob"}, 1))

	candidates := []string{"carol", "bob", "dave"}
	pick := SelectNewLeader("party-1", candidates, 42)
	assert.Contains(t, candidates, pick)

	// order of the candidate list must not matter
	assert.Equal(t, pick, SelectNewLeader("party-1", []string{"dave", "carol", "bob"}, 42))
	assert.Equal(t, pick, SelectNewLeader("party-1", candidates, 42))
}

func TestSelectNewLeaderSpreadsAcrossBuckets(t *testing.T) {
	candidates := []string{"a", "b", "c"}
	seen := map[string]bool{}
	for bucket := int64(0); bucket < 64; bucket++ {
		seen[SelectNewLeader("party-1", candidates, bucket)] = true
	}
	assert.Len(t, seen, 3)
}

func TestTimeBucket(t *testing.T) {
	start := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, TimeBucket(start), TimeBucket(start.Add(4*time.Minute+59*time.Second)))
	assert.Equal(t, TimeBucket(start)+1, TimeBucket(start.Add(LeadershipBucket)))
}
