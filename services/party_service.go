// services/party_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"party-matchmaking/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	CloseReasonLeaderLeft = "leader_left"
	CloseReasonEmpty      = "party_empty"
)

// PartyService owns party creation, friend-gated invites and membership.
type PartyService struct {
	DB       *gorm.DB
	Friends  FriendGraph
	Presence Presence
	Notifier Notifier
	Clock    clockwork.Clock

	// LeaderSuccession promotes a remaining member when the leader leaves instead of
	// closing the party.
	LeaderSuccession bool
}

func NewPartyService(db *gorm.DB, friends FriendGraph, presence Presence, notifier Notifier, clock clockwork.Clock) *PartyService {
	return &PartyService{
		DB:       db,
		Friends:  friends,
		Presence: presence,
		Notifier: notifier,
		Clock:    clock,
	}
}

// InvitePage is one page of an invite listing.
type InvitePage struct {
	Invites  []models.PartyInvite `json:"invites"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// LeaveResult describes what a leave did to the party.
type LeaveResult struct {
	PartyID     string `json:"party_id"`
	Left        bool   `json:"left"`
	PartyClosed bool   `json:"party_closed"`
	NewLeaderID string `json:"new_leader_id,omitempty"`
}

// CreateParty opens a new party with the caller as leader and sole member.
func (s *PartyService) CreateParty(ctx context.Context, leaderID string) (*Roster, error) {
	if strings.TrimSpace(leaderID) == "" {
		return nil, invalidArgument("leader id is required")
	}

	now := utcNow(s.Clock)
	party := models.Party{
		ID:             uuid.NewString(),
		LeaderPlayerID: leaderID,
		Status:         models.PartyStatusOpen,
		Timestamps:     models.Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	leader := models.PartyMember{PartyID: party.ID, PlayerID: leaderID, JoinedAt: now}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := activePartyFor(tx, leaderID); err == nil {
			return ErrAlreadyInParty
		} else if !errors.Is(err, ErrPartyNotFound) {
			return err
		}
		if err := tx.Create(&party).Error; err != nil {
			return eris.Wrap(err, "failed to create party")
		}
		if err := tx.Create(&leader).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyInParty
			}
			return eris.Wrap(err, "failed to add party leader")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("party_id", party.ID).Str("leader_id", leaderID).Msg("party created")
	return &Roster{Party: party, Members: []models.PartyMember{leader}}, nil
}

// GetRoster returns the party, its members in join order and which of them are online.
func (s *PartyService) GetRoster(ctx context.Context, partyID string) (*Roster, error) {
	if strings.TrimSpace(partyID) == "" {
		return nil, invalidArgument("party id is required")
	}
	return s.loadRoster(ctx, s.DB.WithContext(ctx), partyID)
}

// GetActiveParty returns the roster of the player's non-closed party.
func (s *PartyService) GetActiveParty(ctx context.Context, playerID string) (*Roster, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, invalidArgument("player id is required")
	}
	db := s.DB.WithContext(ctx)
	party, err := activePartyFor(db, playerID)
	if err != nil {
		return nil, err
	}
	return s.loadRoster(ctx, db, party.ID)
}

func (s *PartyService) loadRoster(ctx context.Context, db *gorm.DB, partyID string) (*Roster, error) {
	party, err := loadParty(db, partyID, false)
	if err != nil {
		return nil, err
	}
	members, err := loadMembers(db, partyID)
	if err != nil {
		return nil, err
	}
	roster := &Roster{Party: *party, Members: members}
	roster.Online = s.onlineAmong(ctx, roster.MemberIDs())
	return roster, nil
}

// onlineAmong never fails: presence is an annotation, not a precondition.
func (s *PartyService) onlineAmong(ctx context.Context, playerIDs []string) []string {
	if s.Presence == nil || len(playerIDs) == 0 {
		return []string{}
	}
	online, err := s.Presence.GetOnline(ctx, playerIDs)
	if err != nil {
		log.Warn().Err(err).Strs("player_ids", playerIDs).Msg("presence lookup failed")
		return []string{}
	}
	return online
}

// Invite issues an invite from the party leader to a friend. Repeating an invite returns the
// pending one.
func (s *PartyService) Invite(ctx context.Context, partyID, fromID, toID string) (*models.PartyInvite, error) {
	if strings.TrimSpace(partyID) == "" || strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return nil, invalidArgument("party id, inviter and invitee are required")
	}
	if fromID == toID {
		return nil, invalidArgument("cannot invite yourself")
	}

	db := s.DB.WithContext(ctx)
	party, err := loadParty(db, partyID, false)
	if err != nil {
		return nil, err
	}
	if !party.IsLeader(fromID) {
		return nil, ErrNotPartyLeader
	}
	if party.Status != models.PartyStatusOpen {
		return nil, ErrPartyNotOpen
	}

	friends, err := s.Friends.AreFriends(ctx, fromID, toID)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to check friendship %s/%s", fromID, toID)
	}
	if !friends {
		return nil, ErrNotFriends
	}

	now := utcNow(s.Clock)
	var invite models.PartyInvite
	err = db.Transaction(func(tx *gorm.DB) error {
		party, err := loadParty(tx, partyID, true)
		if err != nil {
			return err
		}
		if !party.IsLeader(fromID) {
			return ErrNotPartyLeader
		}
		if party.Status != models.PartyStatusOpen {
			return ErrPartyNotOpen
		}

		err = tx.Where("party_id = ? AND to_player_id = ? AND status = ?", partyID, toID, models.InviteStatusPending).
			Take(&invite).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return eris.Wrap(err, "failed to look up pending invite")
		}

		members, err := loadMembers(tx, partyID)
		if err != nil {
			return err
		}
		if hasMember(members, toID) {
			return ErrAlreadyMember
		}
		if len(members) >= models.MaxPartySize {
			return ErrPartyFull
		}
		if _, err := activePartyFor(tx, toID); err == nil {
			return ErrAlreadyInParty
		} else if !errors.Is(err, ErrPartyNotFound) {
			return err
		}

		invite = models.PartyInvite{
			ID:           uuid.NewString(),
			PartyID:      partyID,
			FromPlayerID: fromID,
			ToPlayerID:   toID,
			Status:       models.InviteStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return eris.Wrap(tx.Create(&invite).Error, "failed to create invite")
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("party_id", partyID).Str("invite_id", invite.ID).Str("to_player_id", toID).Msg("party invite issued")
	return &invite, nil
}

// AcceptInvite joins the recipient to the party. Accepting an already accepted invite makes
// sure the membership exists.
func (s *PartyService) AcceptInvite(ctx context.Context, inviteID, actingID string) (*Roster, error) {
	if strings.TrimSpace(inviteID) == "" || strings.TrimSpace(actingID) == "" {
		return nil, invalidArgument("invite id and player id are required")
	}

	now := utcNow(s.Clock)
	var partyID string
	joined := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invite models.PartyInvite
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", inviteID).Take(&invite).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInviteNotFound
			}
			return eris.Wrapf(err, "failed to load invite %s", inviteID)
		}
		if invite.ToPlayerID != actingID {
			return ErrNotInviteRecipient
		}
		if invite.Status != models.InviteStatusPending && invite.Status != models.InviteStatusAccepted {
			return ErrInviteNotPending
		}
		partyID = invite.PartyID

		party, err := loadParty(tx, invite.PartyID, true)
		if err != nil {
			return err
		}
		members, err := loadMembers(tx, party.ID)
		if err != nil {
			return err
		}

		if !hasMember(members, actingID) {
			if party.Status != models.PartyStatusOpen {
				return ErrPartyNotOpen
			}
			if len(members) >= models.MaxPartySize {
				return ErrPartyFull
			}
			if _, err := activePartyFor(tx, actingID); err == nil {
				return ErrAlreadyInParty
			} else if !errors.Is(err, ErrPartyNotFound) {
				return err
			}
			member := models.PartyMember{PartyID: party.ID, PlayerID: actingID, JoinedAt: now}
			if err := tx.Create(&member).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrAlreadyInParty
				}
				return eris.Wrap(err, "failed to add party member")
			}
			joined = true
		}

		if invite.IsPending() {
			if err := invite.Accept(now); err != nil {
				return err
			}
			if err := tx.Model(&models.PartyInvite{}).Where("id = ?", invite.ID).Updates(map[string]any{
				"status":       invite.Status,
				"responded_at": invite.RespondedAt,
				"updated_at":   now,
			}).Error; err != nil {
				return eris.Wrapf(err, "failed to accept invite %s", invite.ID)
			}
		}

		// a player holds at most one live invite once they have joined a party
		return eris.Wrap(tx.Model(&models.PartyInvite{}).
			Where("to_player_id = ? AND status = ? AND id <> ?", actingID, models.InviteStatusPending, invite.ID).
			Updates(map[string]any{
				"status":       models.InviteStatusCancelled,
				"responded_at": now,
				"updated_at":   now,
			}).Error, "failed to cancel other pending invites")
	})
	if err != nil {
		return nil, err
	}

	roster, err := s.loadRoster(ctx, s.DB.WithContext(ctx), partyID)
	if err != nil {
		return nil, err
	}
	if joined {
		log.Info().Str("party_id", partyID).Str("player_id", actingID).Msg("party invite accepted")
		s.Notifier.NotifyRosterUpdated(ctx, *roster, roster.MemberIDs(), roster.Online)
	}
	return roster, nil
}

// DeclineInvite rejects a pending invite. Declining twice is a no-op.
func (s *PartyService) DeclineInvite(ctx context.Context, inviteID, actingID string) (*models.PartyInvite, error) {
	if strings.TrimSpace(inviteID) == "" || strings.TrimSpace(actingID) == "" {
		return nil, invalidArgument("invite id and player id are required")
	}

	now := utcNow(s.Clock)
	var invite models.PartyInvite
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", inviteID).Take(&invite).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInviteNotFound
			}
			return eris.Wrapf(err, "failed to load invite %s", inviteID)
		}
		if invite.ToPlayerID != actingID {
			return ErrNotInviteRecipient
		}
		if invite.Status == models.InviteStatusDeclined {
			return nil
		}
		if err := invite.Decline(now); err != nil {
			return ErrInviteNotPending
		}
		return eris.Wrapf(tx.Model(&models.PartyInvite{}).Where("id = ?", invite.ID).Updates(map[string]any{
			"status":       invite.Status,
			"responded_at": invite.RespondedAt,
			"updated_at":   now,
		}).Error, "failed to decline invite %s", invite.ID)
	})
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

// LeaveParty removes the player from the party. Leaving a party you are not in does nothing.
func (s *PartyService) LeaveParty(ctx context.Context, partyID, playerID string) (*LeaveResult, error) {
	if strings.TrimSpace(partyID) == "" || strings.TrimSpace(playerID) == "" {
		return nil, invalidArgument("party id and player id are required")
	}

	now := utcNow(s.Clock)
	result := &LeaveResult{PartyID: partyID}
	var notifyIDs []string
	closeReason := ""

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		party, err := loadParty(tx, partyID, true)
		if err != nil {
			return err
		}
		if party.Status == models.PartyStatusClosed {
			return nil
		}
		members, err := loadMembers(tx, partyID)
		if err != nil {
			return err
		}
		if !hasMember(members, playerID) {
			return nil
		}
		notifyIDs = memberIDs(members)
		result.Left = true

		if err := tx.Where("party_id = ? AND player_id = ?", partyID, playerID).
			Delete(&models.PartyMember{}).Error; err != nil {
			return eris.Wrapf(err, "failed to remove %s from party %s", playerID, partyID)
		}
		var remaining []string
		for _, id := range notifyIDs {
			if id != playerID {
				remaining = append(remaining, id)
			}
		}

		if party.IsLeader(playerID) {
			if s.LeaderSuccession && len(remaining) > 0 && party.Status != models.PartyStatusMatched {
				next := SelectNewLeader(party.ID, remaining, TimeBucket(now))
				if err := party.PromoteLeader(next); err != nil {
					return err
				}
				if err := s.requeueToOpen(tx, party, now); err != nil {
					return err
				}
				result.NewLeaderID = next
				return saveParty(tx, party, now)
			}
			closeReason = CloseReasonLeaderLeft
			result.PartyClosed = true
			return closeParty(tx, party, now)
		}

		nonLeaders := 0
		for _, id := range remaining {
			if !party.IsLeader(id) {
				nonLeaders++
			}
		}
		if nonLeaders == 0 {
			closeReason = CloseReasonEmpty
			result.PartyClosed = true
			return closeParty(tx, party, now)
		}
		if err := s.requeueToOpen(tx, party, now); err != nil {
			return err
		}
		return saveParty(tx, party, now)
	})
	if err != nil {
		return nil, surfaceConflict(err)
	}
	if !result.Left {
		return result, nil
	}

	log.Info().
		Str("party_id", partyID).
		Str("player_id", playerID).
		Bool("closed", result.PartyClosed).
		Str("new_leader_id", result.NewLeaderID).
		Msg("player left party")

	roster, err := s.loadRoster(ctx, s.DB.WithContext(ctx), partyID)
	if err != nil {
		log.Warn().Err(err).Str("party_id", partyID).Msg("failed to reload roster after leave")
		return result, nil
	}
	s.Notifier.NotifyRosterUpdated(ctx, *roster, notifyIDs, s.onlineAmong(ctx, notifyIDs))
	if result.PartyClosed {
		s.Notifier.NotifyPartyClosed(ctx, partyID, "", notifyIDs, closeReason)
	}
	return result, nil
}

// requeueToOpen cancels a queued ticket after a roster change; the old ticket describes a
// party that no longer exists.
func (s *PartyService) requeueToOpen(tx *gorm.DB, party *models.Party, now time.Time) error {
	if party.Status != models.PartyStatusQueued {
		return nil
	}
	if _, err := cancelQueuedTickets(tx, party.ID, now); err != nil {
		return err
	}
	return party.MarkOpen()
}

// ListInvites pages the pending invites addressed to the player, newest first.
func (s *PartyService) ListInvites(ctx context.Context, playerID string, page, pageSize int) (*InvitePage, error) {
	return s.listInvites(ctx, "to_player_id", playerID, page, pageSize)
}

// ListSentInvites pages the pending invites the player has issued, newest first.
func (s *PartyService) ListSentInvites(ctx context.Context, playerID string, page, pageSize int) (*InvitePage, error) {
	return s.listInvites(ctx, "from_player_id", playerID, page, pageSize)
}

func (s *PartyService) listInvites(ctx context.Context, column, playerID string, page, pageSize int) (*InvitePage, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, invalidArgument("player id is required")
	}
	page, pageSize = clampPage(page, pageSize)

	pending := func() *gorm.DB {
		return s.DB.WithContext(ctx).Model(&models.PartyInvite{}).
			Where(column+" = ? AND status = ?", playerID, models.InviteStatusPending)
	}

	out := &InvitePage{Page: page, PageSize: pageSize, Invites: []models.PartyInvite{}}
	if err := pending().Count(&out.Total).Error; err != nil {
		return nil, eris.Wrap(err, "failed to count invites")
	}
	if err := pending().Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&out.Invites).Error; err != nil {
		return nil, eris.Wrap(err, "failed to list invites")
	}
	return out, nil
}
