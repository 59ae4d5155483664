// services/lifecycle_service.go
package services

import (
	"context"
	"strings"
	"time"

	"party-matchmaking/models"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const CloseReasonMatchEnded = "match_ended"

// LifecycleService tears parties down once the match they were paired into ends.
type LifecycleService struct {
	DB       *gorm.DB
	Presence Presence
	Notifier Notifier
	Clock    clockwork.Clock
}

func NewLifecycleService(db *gorm.DB, presence Presence, notifier Notifier, clock clockwork.Clock) *LifecycleService {
	return &LifecycleService{DB: db, Presence: presence, Notifier: notifier, Clock: clock}
}

type closedParty struct {
	roster    Roster
	memberIDs []string
}

// ClosePartiesForMatch closes every party still linked to the match and returns how many it
// closed. Running it again for the same match does nothing.
func (s *LifecycleService) ClosePartiesForMatch(ctx context.Context, matchID, reason string) (int, error) {
	if strings.TrimSpace(matchID) == "" {
		return 0, invalidArgument("match id is required")
	}
	if strings.TrimSpace(reason) == "" {
		reason = CloseReasonMatchEnded
	}

	now := utcNow(s.Clock)
	var closed []closedParty
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var links []models.PartyMatchLink
		if err := tx.Where("match_id = ? AND status <> ?", matchID, models.MatchLinkStatusClosed).
			Order("party_id ASC").
			Find(&links).Error; err != nil {
			return eris.Wrapf(err, "failed to load links for match %s", matchID)
		}

		for i := range links {
			link := &links[i]
			won, err := closeLink(tx, link, now, reason)
			if err != nil {
				return err
			}
			if !won {
				// a concurrent close got there first and notifies for this party
				continue
			}

			party, err := loadParty(tx, link.PartyID, true)
			if err != nil {
				return err
			}
			members, err := loadMembers(tx, party.ID)
			if err != nil {
				return err
			}
			var snapshot []models.PartyMatchMember
			if err := tx.Where("party_id = ? AND match_id = ?", party.ID, matchID).
				Order("player_id ASC").
				Find(&snapshot).Error; err != nil {
				return eris.Wrapf(err, "failed to load roster snapshot of party %s", party.ID)
			}

			if party.Status != models.PartyStatusClosed {
				if err := closeParty(tx, party, now); err != nil {
					return err
				}
			}
			closed = append(closed, closedParty{
				roster:    Roster{Party: *party, Members: []models.PartyMember{}},
				memberIDs: unionIDs(snapshotPlayerIDs(snapshot), memberIDs(members)),
			})
		}
		return nil
	})
	if err != nil {
		return 0, surfaceConflict(err)
	}

	for _, c := range closed {
		online := []string{}
		if s.Presence != nil && len(c.memberIDs) > 0 {
			if ids, err := s.Presence.GetOnline(ctx, c.memberIDs); err == nil {
				online = ids
			} else {
				log.Warn().Err(err).Str("party_id", c.roster.Party.ID).Msg("presence lookup failed")
			}
		}
		s.Notifier.NotifyRosterUpdated(ctx, c.roster, c.memberIDs, online)
		s.Notifier.NotifyPartyClosed(ctx, c.roster.Party.ID, matchID, c.memberIDs, reason)
	}
	if len(closed) > 0 {
		log.Info().Str("match_id", matchID).Int("parties", len(closed)).Str("reason", reason).Msg("parties closed for match")
	}
	return len(closed), nil
}

// closeLink closes an open link. It reports false when the row was already closed, so only
// one caller acts on each link.
func closeLink(tx *gorm.DB, link *models.PartyMatchLink, now time.Time, reason string) (bool, error) {
	if !link.MarkClosed(now, reason) {
		return false, nil
	}
	res := tx.Model(&models.PartyMatchLink{}).
		Where("id = ? AND status <> ?", link.ID, models.MatchLinkStatusClosed).
		Updates(map[string]any{
			"status":       link.Status,
			"closed_at":    link.ClosedAt,
			"close_reason": link.CloseReason,
		})
	if res.Error != nil {
		return false, eris.Wrapf(res.Error, "failed to close link %s", link.ID)
	}
	return res.RowsAffected > 0, nil
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, ids := range [][]string{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
