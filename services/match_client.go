// services/match_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// MatchClient starts live matches on the match service.
type MatchClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type startMatchRequest struct {
	HostPlayerID string `json:"host_player_id"`
	Mode         string `json:"mode"`
}

type startMatchResponse struct {
	MatchID   string    `json:"match_id"`
	StartedAt time.Time `json:"started_at"`
}

func NewMatchClient(baseURL, token string, client *http.Client) *MatchClient {
	return &MatchClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  client,
	}
}

func (c *MatchClient) StartMatch(ctx context.Context, hostPlayerID, modeLabel string) (StartedMatch, error) {
	payload, err := json.Marshal(startMatchRequest{HostPlayerID: hostPlayerID, Mode: modeLabel})
	if err != nil {
		return StartedMatch{}, eris.Wrap(err, "failed to encode start match request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/matches", bytes.NewReader(payload))
	if err != nil {
		return StartedMatch{}, eris.Wrap(err, "failed to build start match request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return StartedMatch{}, eris.Wrap(err, "start match request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return StartedMatch{}, eris.Errorf("match service returned %d: %s", resp.StatusCode, string(body))
	}

	var out startMatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StartedMatch{}, eris.Wrap(err, "failed to decode start match response")
	}
	if out.MatchID == "" {
		return StartedMatch{}, eris.New("match service returned no match id")
	}
	return StartedMatch{MatchID: out.MatchID, StartedAt: out.StartedAt.UTC()}, nil
}
