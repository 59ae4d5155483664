// handlers/party_routes.go
package handlers

import (
	"slices"

	"party-matchmaking/middleware"
	"party-matchmaking/services"

	"github.com/gofiber/fiber/v2"
)

const defaultInvitePageSize = 20

type partyHandler struct {
	parties     *services.PartyService
	matchmaking *services.MatchmakingService
}

type inviteRequest struct {
	ToPlayerID string `json:"to_player_id"`
}

type enqueueRequest struct {
	Mode string `json:"mode"`
	Tier int    `json:"tier"`
}

func SetupPartyRoutes(app *fiber.App, parties *services.PartyService, matchmaking *services.MatchmakingService) {
	h := &partyHandler{parties: parties, matchmaking: matchmaking}

	// 🔐 Player routes: identity comes from the gateway's X-User-ID header
	userCtx := middleware.UserContextMiddleware()

	app.Post("/parties", userCtx, h.createParty)
	app.Get("/parties/me", userCtx, h.getActiveParty)
	app.Get("/parties/:id", userCtx, h.getRoster)
	app.Post("/parties/:id/invites", userCtx, h.invite)
	app.Post("/parties/:id/leave", userCtx, h.leave)
	app.Post("/parties/:id/queue", userCtx, h.enqueue)
	app.Delete("/parties/:id/queue", userCtx, h.cancelQueue)

	app.Get("/invites", userCtx, h.listInvites)
	app.Get("/invites/sent", userCtx, h.listSentInvites)
	app.Post("/invites/:id/accept", userCtx, h.acceptInvite)
	app.Post("/invites/:id/decline", userCtx, h.declineInvite)
}

func playerID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func (h *partyHandler) createParty(c *fiber.Ctx) error {
	roster, err := h.parties.CreateParty(c.UserContext(), playerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(roster)
}

func (h *partyHandler) getActiveParty(c *fiber.Ctx) error {
	roster, err := h.parties.GetActiveParty(c.UserContext(), playerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(roster)
}

func (h *partyHandler) getRoster(c *fiber.Ctx) error {
	roster, err := h.parties.GetRoster(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	// outsiders get the same answer as for a missing party
	if !slices.Contains(roster.MemberIDs(), playerID(c)) {
		return writeError(c, services.ErrPartyNotFound)
	}
	return c.JSON(roster)
}

func (h *partyHandler) invite(c *fiber.Ctx) error {
	var req inviteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody(services.CodeInvalidArgument, "invalid request body"))
	}
	invite, err := h.parties.Invite(c.UserContext(), c.Params("id"), playerID(c), req.ToPlayerID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(invite)
}

func (h *partyHandler) leave(c *fiber.Ctx) error {
	result, err := h.parties.LeaveParty(c.UserContext(), c.Params("id"), playerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

func (h *partyHandler) enqueue(c *fiber.Ctx) error {
	var req enqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody(services.CodeInvalidArgument, "invalid request body"))
	}
	result, err := h.matchmaking.EnqueueParty(c.UserContext(), c.Params("id"), playerID(c), req.Mode, req.Tier)
	if err != nil {
		return writeError(c, err)
	}

	status := fiber.StatusInternalServerError
	switch result.Status {
	case services.EnqueueQueued:
		status = fiber.StatusAccepted
	case services.EnqueueMatched:
		status = fiber.StatusOK
	case services.EnqueueForbidden:
		status = fiber.StatusForbidden
	case services.EnqueuePartyNotReady:
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(result)
}

func (h *partyHandler) cancelQueue(c *fiber.Ctx) error {
	cancelled, err := h.matchmaking.CancelPartyQueue(c.UserContext(), c.Params("id"), playerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"party_id": c.Params("id"), "cancelled": cancelled})
}

func (h *partyHandler) listInvites(c *fiber.Ctx) error {
	page, err := h.parties.ListInvites(c.UserContext(), playerID(c), c.QueryInt("page", 1), c.QueryInt("page_size", defaultInvitePageSize))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(page)
}

func (h *partyHandler) listSentInvites(c *fiber.Ctx) error {
	page, err := h.parties.ListSentInvites(c.UserContext(), playerID(c), c.QueryInt("page", 1), c.QueryInt("page_size", defaultInvitePageSize))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(page)
}

func (h *partyHandler) acceptInvite(c *fiber.Ctx) error {
	roster, err := h.parties.AcceptInvite(c.UserContext(), c.Params("id"), playerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(roster)
}

func (h *partyHandler) declineInvite(c *fiber.Ctx) error {
	invite, err := h.parties.DeclineInvite(c.UserContext(), c.Params("id"), playerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(invite)
}
