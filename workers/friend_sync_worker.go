// workers/friend_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"party-matchmaking/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const friendshipsEndpoint = "/api/v1/public/friendships"

// RemoteFriendship matches one edge in the social sync service response.
type RemoteFriendship struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	FriendID  string    `json:"friend_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetFriendshipChangesResponse is the top-level structure of the sync service response.
type GetFriendshipChangesResponse struct {
	Friendships []RemoteFriendship `json:"friendships"`
}

// FriendSyncWorker mirrors friend edges from the social service into the friendships table,
// which gates party invites.
type FriendSyncWorker struct {
	db           *gorm.DB
	clock        clockwork.Clock
	interval     time.Duration
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewFriendSyncWorker(db *gorm.DB, clock clockwork.Clock, syncServiceBaseURL, serviceToken string, interval time.Duration, client *http.Client) *FriendSyncWorker {
	return &FriendSyncWorker{
		db:           db,
		clock:        clock,
		interval:     interval,
		baseURL:      syncServiceBaseURL,
		serviceToken: serviceToken,
		httpClient:   client,
	}
}

func (w *FriendSyncWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("starting friend sync worker")
	go w.run(ctx)
}

func (w *FriendSyncWorker) run(ctx context.Context) {
	// Initial sync backfills from the beginning of time
	if _, err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Warn().Err(err).Msg("[SYNC] initial friend sync failed")
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if _, err := w.syncBatch(ctx, w.getLastSyncTime(ctx)); err != nil {
				log.Error().Err(err).Msg("[SYNC] friend sync batch failed")
			}
		case <-ctx.Done():
			log.Info().Msg("friend sync worker stopped")
			return
		}
	}
}

// getLastSyncTime finds the most recent UpdatedAt in the local mirror.
func (w *FriendSyncWorker) getLastSyncTime(ctx context.Context) time.Time {
	var latest models.Friendship
	err := w.db.WithContext(ctx).Unscoped().Order("updated_at DESC").Take(&latest).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Err(err).Msg("[SYNC] failed to read last friend sync time")
		}
		return time.Unix(0, 0).UTC()
	}
	return latest.UpdatedAt
}

// syncBatch fetches friendship changes since the given time and upserts them. It returns the
// number of rows written.
func (w *FriendSyncWorker) syncBatch(ctx context.Context, since time.Time) (int, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid sync service URL %q", w.baseURL)
	}
	endpoint := base.JoinPath(friendshipsEndpoint)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, eris.Wrapf(err, "failed to create request to %s", endpoint)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "HTTP request to sync service failed")
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, eris.Errorf("sync service returned %d: %s", resp.StatusCode, string(body))
	}

	var response GetFriendshipChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, eris.Wrap(err, "failed to decode sync service response")
	}
	if len(response.Friendships) == 0 {
		log.Debug().Time("since", since).Msg("[SYNC] no friendship changes")
		return 0, nil
	}

	upserted, failed := 0, 0
	for _, remote := range response.Friendships {
		if remote.PlayerID == "" || remote.FriendID == "" {
			failed++
			continue
		}
		id := remote.ID
		if id == "" {
			id = uuid.NewString()
		}
		local := models.Friendship{
			ID:       id,
			PlayerID: remote.PlayerID,
			FriendID: remote.FriendID,
			Status:   remote.Status,
			Timestamps: models.Timestamps{
				CreatedAt: remote.CreatedAt.UTC(),
				UpdatedAt: remote.UpdatedAt.UTC(),
			},
		}
		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "friend_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
		}).Create(&local).Error
		if err != nil {
			failed++
			log.Warn().Err(err).Str("player_id", remote.PlayerID).Str("friend_id", remote.FriendID).Msg("[SYNC] failed to upsert friendship")
			continue
		}
		upserted++
	}

	log.Info().Int("received", len(response.Friendships)).Int("upserted", upserted).Int("errors", failed).Msg("[SYNC] friendships synced")
	return upserted, nil
}
