// services/party_store.go
package services

import (
	"errors"
	"time"

	"party-matchmaking/models"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// utcNow is the single source of timestamps for party rows. Microsecond precision matches
// what Postgres stores.
func utcNow(clock clockwork.Clock) time.Time {
	return clock.Now().UTC().Truncate(time.Microsecond)
}

func loadParty(tx *gorm.DB, partyID string, forUpdate bool) (*models.Party, error) {
	q := tx
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var party models.Party
	if err := q.Where("id = ?", partyID).Take(&party).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPartyNotFound
		}
		return nil, eris.Wrapf(err, "failed to load party %s", partyID)
	}
	return &party, nil
}

func loadMembers(tx *gorm.DB, partyID string) ([]models.PartyMember, error) {
	var members []models.PartyMember
	if err := tx.Where("party_id = ?", partyID).
		Order("joined_at ASC, player_id ASC").
		Find(&members).Error; err != nil {
		return nil, eris.Wrapf(err, "failed to load members of party %s", partyID)
	}
	return members, nil
}

func memberIDs(members []models.PartyMember) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.PlayerID)
	}
	return ids
}

func hasMember(members []models.PartyMember, playerID string) bool {
	for _, m := range members {
		if m.PlayerID == playerID {
			return true
		}
	}
	return false
}

// activePartyFor returns the non-closed party the player belongs to, or ErrPartyNotFound.
func activePartyFor(tx *gorm.DB, playerID string) (*models.Party, error) {
	var party models.Party
	err := tx.Joins("JOIN party_members ON party_members.party_id = parties.id").
		Where("party_members.player_id = ? AND parties.status <> ?", playerID, models.PartyStatusClosed).
		Take(&party).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPartyNotFound
		}
		return nil, eris.Wrapf(err, "failed to look up active party for %s", playerID)
	}
	return &party, nil
}

// updateVersioned applies updates only if the row still carries version, and bumps it.
// A miss means another writer got there first.
func updateVersioned(tx *gorm.DB, model any, id string, version int64, updates map[string]any) error {
	updates["version"] = version + 1
	res := tx.Model(model).Where("id = ? AND version = ?", id, version).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errConcurrencyConflict
	}
	return nil
}

func saveParty(tx *gorm.DB, party *models.Party, now time.Time) error {
	err := updateVersioned(tx, &models.Party{}, party.ID, party.Version, map[string]any{
		"status":           party.Status,
		"leader_player_id": party.LeaderPlayerID,
		"closed_at":        party.ClosedAt,
		"updated_at":       now,
	})
	if err != nil {
		return err
	}
	party.Version++
	party.UpdatedAt = now
	return nil
}

func saveTicket(tx *gorm.DB, ticket *models.PartyMatchmakingTicket, now time.Time) error {
	err := updateVersioned(tx, &models.PartyMatchmakingTicket{}, ticket.ID, ticket.Version, map[string]any{
		"status":     ticket.Status,
		"updated_at": now,
	})
	if err != nil {
		return err
	}
	ticket.Version++
	ticket.UpdatedAt = now
	return nil
}

func queuedTicketFor(tx *gorm.DB, partyID string) (*models.PartyMatchmakingTicket, error) {
	var ticket models.PartyMatchmakingTicket
	err := tx.Where("party_id = ? AND status = ?", partyID, models.TicketStatusQueued).
		Order("created_at ASC").
		Take(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "failed to load queued ticket for party %s", partyID)
	}
	return &ticket, nil
}

// cancelQueuedTickets cancels every queued ticket of the party and reports how many it touched.
func cancelQueuedTickets(tx *gorm.DB, partyID string, now time.Time) (int, error) {
	var tickets []models.PartyMatchmakingTicket
	if err := tx.Where("party_id = ? AND status = ?", partyID, models.TicketStatusQueued).
		Find(&tickets).Error; err != nil {
		return 0, eris.Wrapf(err, "failed to load queued tickets for party %s", partyID)
	}
	for i := range tickets {
		if err := tickets[i].MarkCancelled(); err != nil {
			return 0, err
		}
		if err := saveTicket(tx, &tickets[i], now); err != nil {
			return 0, err
		}
	}
	return len(tickets), nil
}

func cancelPendingInvites(tx *gorm.DB, partyID string, now time.Time) error {
	err := tx.Model(&models.PartyInvite{}).
		Where("party_id = ? AND status = ?", partyID, models.InviteStatusPending).
		Updates(map[string]any{
			"status":       models.InviteStatusCancelled,
			"responded_at": now,
			"updated_at":   now,
		}).Error
	return eris.Wrapf(err, "failed to cancel pending invites of party %s", partyID)
}

// closeParty marks the party closed and tears down everything hanging off it: membership,
// pending invites and queued tickets.
func closeParty(tx *gorm.DB, party *models.Party, now time.Time) error {
	party.MarkClosed(now)
	if err := saveParty(tx, party, now); err != nil {
		return err
	}
	if err := tx.Where("party_id = ?", party.ID).Delete(&models.PartyMember{}).Error; err != nil {
		return eris.Wrapf(err, "failed to evict members of party %s", party.ID)
	}
	if err := cancelPendingInvites(tx, party.ID, now); err != nil {
		return err
	}
	if _, err := cancelQueuedTickets(tx, party.ID, now); err != nil {
		return err
	}
	return nil
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}
