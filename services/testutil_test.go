package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"party-matchmaking/models"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testEpoch = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// newTestDB opens a file-backed SQLite database with a single connection, so concurrent
// callers serialize the way row locks would serialize them in Postgres.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "party.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

type fakeFriends struct {
	mu    sync.Mutex
	edges map[[2]string]bool
	err   error
}

func newFakeFriends() *fakeFriends {
	return &fakeFriends{edges: map[[2]string]bool{}}
}

func (f *fakeFriends) befriend(a, b string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges[[2]string{a, b}] = true
}

func (f *fakeFriends) AreFriends(_ context.Context, a, b string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.edges[[2]string{a, b}] || f.edges[[2]string{b, a}], nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func newFakePresence(online ...string) *fakePresence {
	p := &fakePresence{online: map[string]bool{}}
	for _, id := range online {
		p.online[id] = true
	}
	return p
}

func (p *fakePresence) GetOnline(_ context.Context, ids []string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []string{}
	for _, id := range ids {
		if p.online[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

type matchedCall struct {
	event     PartyMatchedEvent
	memberIDs []string
}

type rosterCall struct {
	roster    Roster
	memberIDs []string
	onlineIDs []string
}

type closedCall struct {
	partyID   string
	matchID   string
	memberIDs []string
	reason    string
}

type recordingNotifier struct {
	mu      sync.Mutex
	matched []matchedCall
	rosters []rosterCall
	closed  []closedCall
}

func (n *recordingNotifier) NotifyPartyMatched(_ context.Context, event PartyMatchedEvent, memberIDs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.matched = append(n.matched, matchedCall{event: event, memberIDs: memberIDs})
}

func (n *recordingNotifier) NotifyRosterUpdated(_ context.Context, roster Roster, memberIDs, onlineIDs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rosters = append(n.rosters, rosterCall{roster: roster, memberIDs: memberIDs, onlineIDs: onlineIDs})
}

func (n *recordingNotifier) NotifyPartyClosed(_ context.Context, partyID, matchID string, memberIDs []string, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, closedCall{partyID: partyID, matchID: matchID, memberIDs: memberIDs, reason: reason})
}

// matchedEventsFor returns every party.matched event delivered to the player.
func (n *recordingNotifier) matchedEventsFor(playerID string) []PartyMatchedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []PartyMatchedEvent
	for _, call := range n.matched {
		for _, id := range call.memberIDs {
			if id == playerID {
				out = append(out, call.event)
			}
		}
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.matched, n.rosters, n.closed = nil, nil, nil
}

type fakeEnforcer struct {
	mu        sync.Mutex
	decisions map[string]EnforcementDecision
	err       error
}

func (e *fakeEnforcer) set(playerID string, d EnforcementDecision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decisions[playerID] = d
}

func (e *fakeEnforcer) Evaluate(_ context.Context, playerID string) (EnforcementDecision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return EnforcementDecision{}, e.err
	}
	if d, ok := e.decisions[playerID]; ok {
		return d, nil
	}
	return EnforcementDecision{CanStartMatch: true, QueueScope: models.ScopeGlobal}, nil
}

type startCall struct {
	host string
	mode string
}

type fakeMatchStarter struct {
	mu    sync.Mutex
	calls []startCall
	err   error
	clock clockwork.Clock
}

func (m *fakeMatchStarter) StartMatch(_ context.Context, host, mode string) (StartedMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return StartedMatch{}, m.err
	}
	m.calls = append(m.calls, startCall{host: host, mode: mode})
	return StartedMatch{MatchID: fmt.Sprintf("match-%d", len(m.calls)), StartedAt: m.clock.Now()}, nil
}

func (m *fakeMatchStarter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type fakeArchiver struct {
	mu        sync.Mutex
	snapshots []models.MatchRosterSnapshot
}

func (a *fakeArchiver) ArchiveRoster(_ context.Context, s models.MatchRosterSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots = append(a.snapshots, s)
	return nil
}

type harness struct {
	db          *gorm.DB
	clock       *clockwork.FakeClock
	friends     *fakeFriends
	presence    *fakePresence
	notifier    *recordingNotifier
	enforcer    *fakeEnforcer
	matches     *fakeMatchStarter
	archiver    *fakeArchiver
	parties     *PartyService
	matchmaking *MatchmakingService
	lifecycle   *LifecycleService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:       newTestDB(t),
		clock:    clockwork.NewFakeClockAt(testEpoch),
		friends:  newFakeFriends(),
		presence: newFakePresence(),
		notifier: &recordingNotifier{},
		enforcer: &fakeEnforcer{decisions: map[string]EnforcementDecision{}},
		archiver: &fakeArchiver{},
	}
	h.matches = &fakeMatchStarter{clock: h.clock}
	h.parties = NewPartyService(h.db, h.friends, h.presence, h.notifier, h.clock)
	h.matchmaking = NewMatchmakingService(h.db, h.enforcer, h.matches, h.notifier, h.clock)
	h.matchmaking.Archiver = h.archiver
	h.lifecycle = NewLifecycleService(h.db, h.presence, h.notifier, h.clock)
	return h
}

// readyParty builds an Open two-member party and returns its id.
func (h *harness) readyParty(t *testing.T, leader, member string) string {
	t.Helper()
	ctx := context.Background()
	roster, err := h.parties.CreateParty(ctx, leader)
	require.NoError(t, err)
	h.friends.befriend(leader, member)
	invite, err := h.parties.Invite(ctx, roster.Party.ID, leader, member)
	require.NoError(t, err)
	_, err = h.parties.AcceptInvite(ctx, invite.ID, member)
	require.NoError(t, err)
	return roster.Party.ID
}

// queueDirect puts a party in the queue with a hand-made ticket, bypassing the pairing attempt.
func (h *harness) queueDirect(t *testing.T, partyID string, scope models.QueueScope, tier int, createdAt, expiresAt time.Time) models.PartyMatchmakingTicket {
	t.Helper()
	party := h.party(t, partyID)
	require.NoError(t, party.MarkQueued())
	require.NoError(t, h.db.Model(&models.Party{}).Where("id = ?", partyID).Update("status", party.Status).Error)

	ticket := models.PartyMatchmakingTicket{
		ID:             fmt.Sprintf("ticket-%s", partyID),
		PartyID:        partyID,
		LeaderPlayerID: party.LeaderPlayerID,
		Mode:           "ranked",
		Tier:           tier,
		Scope:          scope,
		PartySize:      2,
		Status:         models.TicketStatusQueued,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
		ExpiresAt:      expiresAt,
	}
	require.NoError(t, h.db.Create(&ticket).Error)
	return ticket
}

func (h *harness) party(t *testing.T, partyID string) models.Party {
	t.Helper()
	var party models.Party
	require.NoError(t, h.db.Where("id = ?", partyID).Take(&party).Error)
	return party
}

func (h *harness) ticket(t *testing.T, ticketID string) models.PartyMatchmakingTicket {
	t.Helper()
	var ticket models.PartyMatchmakingTicket
	require.NoError(t, h.db.Where("id = ?", ticketID).Take(&ticket).Error)
	return ticket
}

func (h *harness) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

// activePartyCount counts the non-closed parties the player belongs to.
func (h *harness) activePartyCount(t *testing.T, playerID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&models.PartyMember{}).
		Joins("JOIN parties ON parties.id = party_members.party_id").
		Where("party_members.player_id = ? AND parties.status <> ?", playerID, models.PartyStatusClosed).
		Count(&n).Error)
	return n
}
