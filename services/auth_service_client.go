// services/auth_service_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// AuthServiceClient validates player access tokens for routes that cannot carry gateway
// headers, such as the SSE stream.
type AuthServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type ValidateResponse struct {
	UserID   string   `json:"user_id"`
	DeviceID string   `json:"device_id"`
	Roles    []string `json:"roles"`
}

func NewAuthServiceClient(baseURL, token string, client *http.Client) *AuthServiceClient {
	return &AuthServiceClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  client,
	}
}

// ValidateToken calls /auth/validate on the auth service
func (c *AuthServiceClient) ValidateToken(ctx context.Context, accessToken, deviceID string) (*ValidateResponse, error) {
	body, err := json.Marshal(map[string]string{
		"access_token": accessToken,
		"device_id":    deviceID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode validate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/validate", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "failed to build validate request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "auth validate request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, eris.Wrap(err, "failed to read validate response")
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("auth service rejected token")
		return nil, eris.Errorf("auth validation failed: %d", resp.StatusCode)
	}

	var out ValidateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrap(err, "failed to decode validate response")
	}
	if out.UserID == "" {
		return nil, eris.New("auth service returned no user id")
	}
	return &out, nil
}
