// handlers/errors.go
package handlers

import (
	"errors"

	"party-matchmaking/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.CodeInvalidArgument:
		return fiber.StatusBadRequest
	case services.CodePartyNotFound, services.CodeInviteNotFound:
		return fiber.StatusNotFound
	case services.CodeNotPartyLeader, services.CodeNotInviteRecipient:
		return fiber.StatusForbidden
	case services.CodePartyNotOpen, services.CodePartyFull, services.CodeNotFriends,
		services.CodeAlreadyInParty, services.CodeAlreadyMember, services.CodeInviteNotPending,
		services.CodeConcurrentUpdate:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func errorBody(code services.ErrorCode, message string) fiber.Map {
	return fiber.Map{"error": fiber.Map{"code": code, "message": message}}
}

// writeError renders err as {"error": {"code", "message"}}. Unexpected errors are logged with
// their trace and reported without detail.
func writeError(c *fiber.Ctx, err error) error {
	var domainErr *services.Error
	if errors.As(err, &domainErr) {
		return c.Status(statusFor(domainErr.Code)).JSON(errorBody(domainErr.Code, domainErr.Message))
	}

	log.Error().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Str("trace", eris.ToString(err, true)).
		Msg("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(errorBody(services.CodeInternal, "internal error"))
}

// ErrorHandler is the fiber.Config ErrorHandler; it renders anything a handler returns
// in the same shape as domain errors.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code := services.CodeInternal
		switch fiberErr.Code {
		case fiber.StatusBadRequest:
			code = services.CodeInvalidArgument
		case fiber.StatusNotFound:
			code = "NOT_FOUND"
		case fiber.StatusMethodNotAllowed:
			code = "METHOD_NOT_ALLOWED"
		}
		return c.Status(fiberErr.Code).JSON(errorBody(code, fiberErr.Message))
	}
	return writeError(c, err)
}
