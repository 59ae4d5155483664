package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// PartyEventStream relays a player's party events from Redis to an SSE connection and keeps
// the player's presence fresh while connected.
type PartyEventStream struct {
	Notifier  *RedisNotifier
	Presence  *RedisPresence
	Heartbeat time.Duration
}

func NewPartyEventStream(notifier *RedisNotifier, presence *RedisPresence) *PartyEventStream {
	heartbeat := DefaultPresenceTTL / 3
	return &PartyEventStream{Notifier: notifier, Presence: presence, Heartbeat: heartbeat}
}

// StreamPartyEventsSSE streams party.matched, party.roster_updated and party.closed events
// for the authenticated player.
func (s *PartyEventStream) StreamPartyEventsSSE(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": fiber.Map{"code": "UNAUTHENTICATED", "message": "missing player identity"},
		})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	ctx := context.Background()
	sub := s.Notifier.Subscribe(ctx, userID)
	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			_ = sub.Close()
			if err := s.Presence.MarkOffline(ctx, userID); err != nil {
				log.Warn().Err(err).Str("player_id", userID).Msg("[SSE] failed to clear presence")
			}
			log.Info().Str("player_id", userID).Msg("[SSE] party event stream closed")
		}()

		if err := s.Presence.MarkOnline(ctx, userID); err != nil {
			log.Warn().Err(err).Str("player_id", userID).Msg("[SSE] failed to mark presence")
		}

		ticker := time.NewTicker(s.Heartbeat)
		defer ticker.Stop()

		// Initial keepalive (comment event)
		_, _ = w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		messages := sub.Channel()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event PartyEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Warn().Err(err).Str("player_id", userID).Msg("[SSE] dropping malformed party event")
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, msg.Payload)
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-ticker.C:
				if err := s.Presence.MarkOnline(ctx, userID); err != nil {
					log.Warn().Err(err).Str("player_id", userID).Msg("[SSE] failed to refresh presence")
				}
				_, _ = w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-done:
				return
			}
		}
	})

	return nil
}
