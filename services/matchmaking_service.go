// services/matchmaking_service.go
package services

import (
	"context"
	"strings"
	"time"

	"party-matchmaking/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	DefaultTicketTTL       = 2 * time.Minute
	DefaultPairingAttempts = 2
)

type EnqueueStatus string

const (
	EnqueueQueued        EnqueueStatus = "queued"
	EnqueueMatched       EnqueueStatus = "matched"
	EnqueueForbidden     EnqueueStatus = "forbidden"
	EnqueuePartyNotReady EnqueueStatus = "party_not_ready"
)

// EnqueueResult is the leader's terminal answer to an enqueue call.
type EnqueueResult struct {
	Status          EnqueueStatus     `json:"status"`
	TicketID        string            `json:"ticket_id,omitempty"`
	OpponentPartyID string            `json:"opponent_party_id,omitempty"`
	MatchID         string            `json:"match_id,omitempty"`
	Scope           models.QueueScope `json:"scope,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
}

// MatchmakingService queues ready parties and pairs them into matches.
type MatchmakingService struct {
	DB       *gorm.DB
	Enforcer Enforcer
	Matches  MatchStarter
	Notifier Notifier
	Archiver RosterArchiver
	Clock    clockwork.Clock

	TicketTTL       time.Duration
	PairingAttempts int
}

func NewMatchmakingService(db *gorm.DB, enforcer Enforcer, matches MatchStarter, notifier Notifier, clock clockwork.Clock) *MatchmakingService {
	return &MatchmakingService{
		DB:              db,
		Enforcer:        enforcer,
		Matches:         matches,
		Notifier:        notifier,
		Clock:           clock,
		TicketTTL:       DefaultTicketTTL,
		PairingAttempts: DefaultPairingAttempts,
	}
}

// EnqueueParty puts the leader's party in the queue and tries to pair it right away.
// A party that already holds a queued ticket gets that ticket back.
func (s *MatchmakingService) EnqueueParty(ctx context.Context, partyID, leaderID, mode string, tier int) (*EnqueueResult, error) {
	if strings.TrimSpace(partyID) == "" || strings.TrimSpace(leaderID) == "" {
		return nil, invalidArgument("party id and leader id are required")
	}
	if strings.TrimSpace(mode) == "" {
		return nil, invalidArgument("mode is required")
	}
	if tier < 0 {
		return nil, invalidArgument("tier must not be negative")
	}

	db := s.DB.WithContext(ctx)
	party, err := loadParty(db, partyID, false)
	if err != nil {
		return nil, err
	}
	if !party.IsLeader(leaderID) {
		return nil, ErrNotPartyLeader
	}
	if party.Status != models.PartyStatusOpen && party.Status != models.PartyStatusQueued {
		return nil, ErrPartyNotOpen
	}
	members, err := loadMembers(db, partyID)
	if err != nil {
		return nil, err
	}
	if len(members) < models.MinQueueSize {
		return &EnqueueResult{Status: EnqueuePartyNotReady}, nil
	}

	scope, allowed, err := s.evaluateMembers(ctx, memberIDs(members))
	if err != nil {
		return nil, err
	}
	if !allowed {
		// a restricted member also pulls the party out of any queue it was already in
		if _, err := s.CancelPartyQueue(ctx, partyID, leaderID); err != nil {
			log.Warn().Err(err).Str("party_id", partyID).Msg("failed to withdraw forbidden party from queue")
		}
		log.Info().Str("party_id", partyID).Msg("enqueue forbidden by enforcement")
		return &EnqueueResult{Status: EnqueueForbidden}, nil
	}

	if _, err := s.SweepExpired(ctx); err != nil {
		return nil, err
	}

	ticket, created, err := s.openTicket(ctx, partyID, leaderID, mode, tier, scope, len(members))
	if err != nil {
		return nil, surfaceConflict(err)
	}
	queued := &EnqueueResult{
		Status:    EnqueueQueued,
		TicketID:  ticket.ID,
		Scope:     ticket.Scope,
		ExpiresAt: &ticket.ExpiresAt,
	}
	if !created {
		return queued, nil
	}
	log.Info().
		Str("party_id", partyID).
		Str("ticket_id", ticket.ID).
		Str("mode", mode).
		Int("tier", tier).
		Str("scope", string(scope)).
		Msg("party queued")

	for attempt := 1; attempt <= s.PairingAttempts; attempt++ {
		outcome, p, err := s.attemptPairing(ctx, ticket.ID)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("ticket_id", ticket.ID).Int("attempt", attempt).Stringer("outcome", outcome).Msg("pairing attempt finished")
		switch outcome {
		case attemptMatched:
			return s.completeMatch(ctx, p)
		case attemptConflict:
			continue
		}
		break
	}
	return queued, nil
}

// evaluateMembers reports whether every member may play, and the most restrictive scope.
func (s *MatchmakingService) evaluateMembers(ctx context.Context, playerIDs []string) (models.QueueScope, bool, error) {
	scope := models.ScopeGlobal
	for _, id := range playerIDs {
		decision, err := s.Enforcer.Evaluate(ctx, id)
		if err != nil {
			return "", false, eris.Wrapf(err, "enforcement check failed for %s", id)
		}
		if !decision.CanStartMatch {
			return "", false, nil
		}
		if decision.QueueScope == models.ScopeTierOnly {
			scope = models.ScopeTierOnly
		}
	}
	return scope, true, nil
}

// openTicket returns the party's queued ticket, creating it (and queueing the party) when
// there is none.
func (s *MatchmakingService) openTicket(ctx context.Context, partyID, leaderID, mode string, tier int, scope models.QueueScope, size int) (*models.PartyMatchmakingTicket, bool, error) {
	now := utcNow(s.Clock)
	var ticket *models.PartyMatchmakingTicket
	created := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		party, err := loadParty(tx, partyID, true)
		if err != nil {
			return err
		}
		if !party.IsLeader(leaderID) {
			return ErrNotPartyLeader
		}
		existing, err := queuedTicketFor(tx, partyID)
		if err != nil {
			return err
		}
		if existing != nil {
			ticket = existing
			return nil
		}

		if party.Status != models.PartyStatusQueued {
			if err := party.MarkQueued(); err != nil {
				return ErrPartyNotOpen
			}
			if err := saveParty(tx, party, now); err != nil {
				return err
			}
		}

		ticket = &models.PartyMatchmakingTicket{
			ID:             uuid.NewString(),
			PartyID:        partyID,
			LeaderPlayerID: leaderID,
			Mode:           mode,
			Tier:           tier,
			Scope:          scope,
			PartySize:      size,
			Status:         models.TicketStatusQueued,
			CreatedAt:      now,
			UpdatedAt:      now,
			ExpiresAt:      now.Add(s.TicketTTL),
		}
		if err := tx.Create(ticket).Error; err != nil {
			return eris.Wrap(err, "failed to create matchmaking ticket")
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return ticket, created, nil
}

// CancelPartyQueue takes the party out of the queue. It reports whether a ticket was
// cancelled; cancelling with nothing queued is a no-op.
func (s *MatchmakingService) CancelPartyQueue(ctx context.Context, partyID, leaderID string) (bool, error) {
	if strings.TrimSpace(partyID) == "" || strings.TrimSpace(leaderID) == "" {
		return false, invalidArgument("party id and leader id are required")
	}

	now := utcNow(s.Clock)
	cancelled := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		party, err := loadParty(tx, partyID, true)
		if err != nil {
			return err
		}
		if !party.IsLeader(leaderID) {
			return ErrNotPartyLeader
		}
		if cancelled, err = cancelQueuedTickets(tx, partyID, now); err != nil {
			return err
		}
		if party.Status != models.PartyStatusQueued {
			return nil
		}
		if err := party.MarkOpen(); err != nil {
			return err
		}
		return saveParty(tx, party, now)
	})
	if err != nil {
		return false, surfaceConflict(err)
	}
	if cancelled > 0 {
		log.Info().Str("party_id", partyID).Msg("party queue cancelled")
	}
	return cancelled > 0, nil
}

// SweepExpired cancels queued tickets past their expiry and returns their parties to Open.
// A ticket someone else touched in the meantime is skipped.
func (s *MatchmakingService) SweepExpired(ctx context.Context) (int, error) {
	now := utcNow(s.Clock)
	db := s.DB.WithContext(ctx)

	var expired []models.PartyMatchmakingTicket
	if err := db.Where("status = ? AND expires_at <= ?", models.TicketStatusQueued, now).
		Order("created_at ASC").
		Find(&expired).Error; err != nil {
		return 0, eris.Wrap(err, "failed to load expired tickets")
	}

	swept := 0
	for i := range expired {
		ticket := expired[i]
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := ticket.MarkCancelled(); err != nil {
				return err
			}
			if err := saveTicket(tx, &ticket, now); err != nil {
				return err
			}
			party, err := loadParty(tx, ticket.PartyID, true)
			if err != nil {
				return err
			}
			if party.Status != models.PartyStatusQueued {
				return nil
			}
			if err := party.MarkOpen(); err != nil {
				return err
			}
			return saveParty(tx, party, now)
		})
		if err != nil {
			if isConcurrencyConflict(err) {
				continue
			}
			return swept, err
		}
		swept++
		log.Info().Str("ticket_id", ticket.ID).Str("party_id", ticket.PartyID).Msg("expired ticket swept")
	}
	return swept, nil
}
