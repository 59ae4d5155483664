// middleware/sse_auth.go
package middleware

import (
	"context"
	"strings"

	"party-matchmaking/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// TokenValidator checks a player access token bound to a device.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.ValidateResponse, error)
}

// SSEAuthMiddleware validates `token` and `device_id` from query params, since EventSource
// clients cannot set headers.
//
// Usage:
//
//	app.Get("/parties/events/stream", middleware.SSEAuthMiddleware(authClient), stream.StreamPartyEventsSSE)
func SSEAuthMiddleware(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))

		if accessToken == "" || deviceID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fiber.Map{"code": "INVALID_ARGUMENT", "message": "missing token or device_id in query"},
			})
		}

		resp, err := validator.ValidateToken(c.UserContext(), accessToken, deviceID)
		if err != nil {
			log.Warn().Err(err).Str("device_id", deviceID).Msg("[SSEAuth] validation failed")
			return unauthorized(c, "unauthorized")
		}

		c.Locals("user_id", resp.UserID)
		c.Locals("device_id", resp.DeviceID)
		c.Locals("user_roles", resp.Roles)

		log.Debug().Str("player_id", resp.UserID).Str("device_id", resp.DeviceID).Msg("[SSEAuth] authenticated")
		return c.Next()
	}
}
