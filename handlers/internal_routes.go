// handlers/internal_routes.go
package handlers

import (
	"party-matchmaking/middleware"
	"party-matchmaking/services"

	"github.com/gofiber/fiber/v2"
)

type closeMatchRequest struct {
	Reason string `json:"reason"`
}

// SetupInternalRoutes registers service-to-service routes. They sit behind the global gateway
// token only; there is no player identity.
func SetupInternalRoutes(app *fiber.App, lifecycle *services.LifecycleService) {
	internal := app.Group("/internal")

	internal.Post("/matches/:id/close", func(c *fiber.Ctx) error {
		var req closeMatchRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(errorBody(services.CodeInvalidArgument, "invalid request body"))
			}
		}
		closed, err := lifecycle.ClosePartiesForMatch(c.UserContext(), c.Params("id"), req.Reason)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"match_id": c.Params("id"), "parties_closed": closed})
	})
}

// SetupStreamRoutes registers the SSE stream of a player's party events. EventSource cannot
// send headers, so the player authenticates with a query token.
func SetupStreamRoutes(app *fiber.App, validator middleware.TokenValidator, stream *services.PartyEventStream) {
	app.Get("/parties/events/stream", middleware.SSEAuthMiddleware(validator), stream.StreamPartyEventsSSE)
}
