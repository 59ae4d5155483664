// services/leadership.go
package services

import (
	"hash/fnv"
	"sort"
	"strconv"
	"time"
)

// LeadershipBucket is the window within which leader selection for a party is stable.
const LeadershipBucket = 5 * time.Minute

// TimeBucket maps t onto its leadership window.
func TimeBucket(t time.Time) int64 {
	return t.Unix() / int64(LeadershipBucket/time.Second)
}

// SelectNewLeader picks a replacement leader from candidates. The pick depends only on the
// party, the bucket and the candidate set, so retries inside one window agree.
// No candidates yields "".
func SelectNewLeader(partyID string, candidates []string, bucket int64) string {
	switch len(candidates) {
	case 0:
		return ""
	case 1:
		return candidates[0]
	}

	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	h := fnv.New64a()
	_, _ = h.Write([]byte(partyID + "|" + strconv.FormatInt(bucket, 10)))
	return sorted[h.Sum64()%uint64(len(sorted))]
}
