// services/pairing.go
package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"party-matchmaking/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type attemptOutcome int

const (
	attemptNoOpponent attemptOutcome = iota
	attemptSelfNotQueued
	attemptConflict
	attemptMatched
)

func (o attemptOutcome) String() string {
	switch o {
	case attemptMatched:
		return "matched"
	case attemptSelfNotQueued:
		return "self_not_queued"
	case attemptConflict:
		return "conflict"
	default:
		return "no_opponent"
	}
}

// pairing is a committed match between two tickets, as seen by the self ticket.
type pairing struct {
	self          models.PartyMatchmakingTicket
	opponent      models.PartyMatchmakingTicket
	selfParty     models.Party
	opponentParty models.Party
	// members as of the pairing commit
	selfMembers     []models.PartyMember
	opponentMembers []models.PartyMember
}

// attemptPairing runs one pairing transaction for the ticket. Lost races come back as
// attemptConflict, never as an error.
func (s *MatchmakingService) attemptPairing(ctx context.Context, ticketID string) (attemptOutcome, *pairing, error) {
	now := utcNow(s.Clock)
	outcome := attemptNoOpponent
	var p pairing

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var self models.PartyMatchmakingTicket
		if err := tx.Where("id = ?", ticketID).Take(&self).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = attemptSelfNotQueued
				return nil
			}
			return eris.Wrapf(err, "failed to reload ticket %s", ticketID)
		}
		if !self.IsQueued() || self.IsExpired(now) {
			outcome = attemptSelfNotQueued
			return nil
		}

		opponent, err := findOpponent(tx, &self, now)
		if err != nil {
			return err
		}
		if opponent == nil {
			outcome = attemptNoOpponent
			return nil
		}

		selfParty, err := loadParty(tx, self.PartyID, false)
		if err != nil {
			return err
		}
		opponentParty, err := loadParty(tx, opponent.PartyID, false)
		if err != nil {
			return err
		}
		if selfParty.Status != models.PartyStatusQueued {
			outcome = attemptSelfNotQueued
			return nil
		}
		if opponentParty.Status != models.PartyStatusQueued {
			// the opponent is being torn down; another candidate may exist
			outcome = attemptConflict
			return nil
		}
		selfMembers, err := loadMembers(tx, selfParty.ID)
		if err != nil {
			return err
		}
		opponentMembers, err := loadMembers(tx, opponentParty.ID)
		if err != nil {
			return err
		}

		// lower id first so concurrent pairings take row locks in the same order
		tickets := []*models.PartyMatchmakingTicket{&self, opponent}
		sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })
		for _, t := range tickets {
			if err := t.MarkMatched(); err != nil {
				return err
			}
			if err := saveTicket(tx, t, now); err != nil {
				return err
			}
		}
		parties := []*models.Party{selfParty, opponentParty}
		sort.Slice(parties, func(i, j int) bool { return parties[i].ID < parties[j].ID })
		for _, party := range parties {
			if err := party.MarkMatched(); err != nil {
				return err
			}
			if err := saveParty(tx, party, now); err != nil {
				return err
			}
		}

		p = pairing{
			self:            self,
			opponent:        *opponent,
			selfParty:       *selfParty,
			opponentParty:   *opponentParty,
			selfMembers:     selfMembers,
			opponentMembers: opponentMembers,
		}
		outcome = attemptMatched
		return nil
	})
	if err != nil {
		if isConcurrencyConflict(err) {
			return attemptConflict, nil, nil
		}
		return attemptNoOpponent, nil, err
	}
	if outcome != attemptMatched {
		return outcome, nil, nil
	}
	return outcome, &p, nil
}

// findOpponent returns the oldest compatible queued ticket, or nil.
func findOpponent(tx *gorm.DB, self *models.PartyMatchmakingTicket, now time.Time) (*models.PartyMatchmakingTicket, error) {
	q := tx.Where("status = ? AND id <> ? AND party_id <> ?", models.TicketStatusQueued, self.ID, self.PartyID).
		Where("mode = ? AND scope = ? AND party_size = ?", self.Mode, self.Scope, self.PartySize).
		Where("expires_at > ?", now)
	if self.Scope == models.ScopeTierOnly {
		q = q.Where("tier = ?", self.Tier)
	}

	var opponent models.PartyMatchmakingTicket
	if err := q.Order("created_at ASC, id ASC").Take(&opponent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "failed to search for an opponent ticket")
	}
	return &opponent, nil
}

// HostFor picks the match host: the leader whose id sorts first.
func HostFor(leaderA, leaderB string) string {
	if strings.Compare(leaderB, leaderA) < 0 {
		return leaderB
	}
	return leaderA
}

// ModeLabel marks a mode as party-originated for the match service.
func ModeLabel(mode string) string {
	return slug.Make(mode) + "-party"
}

// completeMatch starts the live match for a committed pairing, records the links and roster
// snapshot, and notifies both sides.
func (s *MatchmakingService) completeMatch(ctx context.Context, p *pairing) (*EnqueueResult, error) {
	host := HostFor(p.selfParty.LeaderPlayerID, p.opponentParty.LeaderPlayerID)

	started, err := s.Matches.StartMatch(ctx, host, ModeLabel(p.self.Mode))
	if err != nil {
		log.Error().Err(err).
			Str("ticket_id", p.self.ID).
			Str("opponent_ticket_id", p.opponent.ID).
			Msg("match start failed, reverting pairing")
		if rerr := s.abortPairing(ctx, p); rerr != nil {
			log.Error().Err(rerr).Str("ticket_id", p.self.ID).Msg("failed to revert pairing")
		}
		return nil, eris.Wrap(err, "failed to start match")
	}

	now := utcNow(s.Clock)
	if started.StartedAt.IsZero() {
		started.StartedAt = now
	}

	db := s.DB.WithContext(ctx)
	selfSnapshot := snapshotMembers(&p.selfParty, p.selfMembers, started.MatchID, now)
	opponentSnapshot := snapshotMembers(&p.opponentParty, p.opponentMembers, started.MatchID, now)

	err = db.Transaction(func(tx *gorm.DB) error {
		for _, partyID := range []string{p.selfParty.ID, p.opponentParty.ID} {
			link := models.PartyMatchLink{
				ID:        uuid.NewString(),
				PartyID:   partyID,
				MatchID:   started.MatchID,
				Status:    models.MatchLinkStatusMatched,
				CreatedAt: now,
			}
			if err := tx.Create(&link).Error; err != nil {
				return eris.Wrapf(err, "failed to link party %s to match %s", partyID, started.MatchID)
			}
		}
		snapshot := append(append([]models.PartyMatchMember{}, selfSnapshot...), opponentSnapshot...)
		if len(snapshot) == 0 {
			return nil
		}
		return eris.Wrap(tx.Create(&snapshot).Error, "failed to write match roster snapshot")
	})
	if err != nil {
		// parties stay Matched without a link; the match close hook cannot reach them
		log.Error().Err(err).
			Str("match_id", started.MatchID).
			Str("party_id", p.selfParty.ID).
			Str("opponent_party_id", p.opponentParty.ID).
			Strs("player_ids", unionIDs(snapshotPlayerIDs(selfSnapshot), snapshotPlayerIDs(opponentSnapshot))).
			Msg("failed to persist match links, parties need manual close")
	}

	if s.Archiver != nil {
		roster := models.MatchRosterSnapshot{
			MatchID:   started.MatchID,
			Mode:      p.self.Mode,
			Tier:      p.self.Tier,
			Scope:     p.self.Scope,
			HostID:    host,
			StartedAt: started.StartedAt,
			Members:   append(append([]models.PartyMatchMember{}, selfSnapshot...), opponentSnapshot...),
		}
		if err := s.Archiver.ArchiveRoster(ctx, roster); err != nil {
			log.Warn().Err(err).Str("match_id", started.MatchID).Msg("failed to archive match roster")
		}
	}

	s.Notifier.NotifyPartyMatched(ctx, PartyMatchedEvent{
		PartyID:         p.selfParty.ID,
		OpponentPartyID: p.opponentParty.ID,
		MatchID:         started.MatchID,
		Mode:            p.self.Mode,
		Tier:            p.self.Tier,
		Scope:           p.self.Scope,
		TicketID:        p.self.ID,
	}, snapshotPlayerIDs(selfSnapshot))
	s.Notifier.NotifyPartyMatched(ctx, PartyMatchedEvent{
		PartyID:         p.opponentParty.ID,
		OpponentPartyID: p.selfParty.ID,
		MatchID:         started.MatchID,
		Mode:            p.opponent.Mode,
		Tier:            p.opponent.Tier,
		Scope:           p.opponent.Scope,
		TicketID:        p.opponent.ID,
	}, snapshotPlayerIDs(opponentSnapshot))

	log.Info().
		Str("match_id", started.MatchID).
		Str("party_id", p.selfParty.ID).
		Str("opponent_party_id", p.opponentParty.ID).
		Str("host_id", host).
		Msg("parties matched")

	return &EnqueueResult{
		Status:          EnqueueMatched,
		TicketID:        p.self.ID,
		OpponentPartyID: p.opponentParty.ID,
		MatchID:         started.MatchID,
		Scope:           p.self.Scope,
	}, nil
}

// abortPairing undoes a committed pairing whose match never started: parties go back to
// Open and both tickets are cancelled.
func (s *MatchmakingService) abortPairing(ctx context.Context, p *pairing) error {
	now := utcNow(s.Clock)
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ticketID := range []string{p.self.ID, p.opponent.ID} {
			var ticket models.PartyMatchmakingTicket
			if err := tx.Where("id = ?", ticketID).Take(&ticket).Error; err != nil {
				return eris.Wrapf(err, "failed to reload ticket %s", ticketID)
			}
			if ticket.Status != models.TicketStatusMatched {
				continue
			}
			if err := ticket.AbortMatch(); err != nil {
				return err
			}
			if err := saveTicket(tx, &ticket, now); err != nil {
				return err
			}
		}
		for _, partyID := range []string{p.selfParty.ID, p.opponentParty.ID} {
			party, err := loadParty(tx, partyID, true)
			if err != nil {
				return err
			}
			if party.Status != models.PartyStatusMatched {
				continue
			}
			if err := party.AbortMatch(); err != nil {
				return err
			}
			if err := saveParty(tx, party, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func snapshotMembers(party *models.Party, members []models.PartyMember, matchID string, now time.Time) []models.PartyMatchMember {
	out := make([]models.PartyMatchMember, 0, len(members))
	for _, m := range members {
		role := models.MemberRoleMember
		if party.IsLeader(m.PlayerID) {
			role = models.MemberRoleLeader
		}
		out = append(out, models.PartyMatchMember{
			PartyID:   party.ID,
			MatchID:   matchID,
			PlayerID:  m.PlayerID,
			Role:      role,
			CreatedAt: now,
		})
	}
	return out
}

func snapshotPlayerIDs(snapshot []models.PartyMatchMember) []string {
	ids := make([]string, 0, len(snapshot))
	for _, m := range snapshot {
		ids = append(ids, m.PlayerID)
	}
	return ids
}
