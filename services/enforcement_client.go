// services/enforcement_client.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"party-matchmaking/models"

	"github.com/rotisserie/eris"
)

// EnforcementClient asks the enforcement service whether a player may start matches.
type EnforcementClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type enforcementDecisionResponse struct {
	CanStartMatch bool   `json:"can_start_match"`
	QueueScope    string `json:"queue_scope"`
}

func NewEnforcementClient(baseURL, token string, client *http.Client) *EnforcementClient {
	return &EnforcementClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  client,
	}
}

// Evaluate fetches the player's decision. An unknown scope is treated as Global.
func (c *EnforcementClient) Evaluate(ctx context.Context, playerID string) (EnforcementDecision, error) {
	endpoint := fmt.Sprintf("%s/players/%s/decision", c.BaseURL, url.PathEscape(playerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return EnforcementDecision{}, eris.Wrap(err, "failed to build enforcement request")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return EnforcementDecision{}, eris.Wrapf(err, "enforcement request for %s failed", playerID)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return EnforcementDecision{}, eris.Errorf("enforcement service returned %d for %s: %s", resp.StatusCode, playerID, string(body))
	}

	var out enforcementDecisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return EnforcementDecision{}, eris.Wrap(err, "failed to decode enforcement decision")
	}
	scope, ok := models.ParseQueueScope(out.QueueScope)
	if !ok {
		scope = models.ScopeGlobal
	}
	return EnforcementDecision{CanStartMatch: out.CanStartMatch, QueueScope: scope}, nil
}
