package web

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/dukex/chatflow/pkg/events"
	"github.com/gofiber/fiber/v3"
)

const DefaultHeartbeatInterval = 25 * time.Second

var heartbeatLine = []byte(`{"type":"heartbeat"}` + "\n")

// Stream pushes newline-delimited event envelopes. A widget subscribes with
// session_id; an authenticated agent subscribes to its organization,
// optionally narrowed to one conversation.
func (h *APIHandlers) Stream(c fiber.Ctx) error {
	scope, err := h.streamScope(c)
	if err != nil {
		return err
	}

	if scope == nil {
		// A response was already written.
		return nil
	}

	ctx, cancel := context.WithCancel(h.streams)

	sub, err := h.subscriber.Subscribe(ctx, *scope)
	if err != nil {
		cancel()

		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	heartbeat := h.heartbeat

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer sub.Close()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		// The first heartbeat tells the client the subscription is live.
		if _, err := w.Write(heartbeatLine); err != nil {
			return
		}

		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}

				line, err := json.Marshal(events.NewEnvelope(event))
				if err != nil {
					continue
				}

				if _, err := w.Write(append(line, '\n')); err != nil {
					return
				}

				if err := w.Flush(); err != nil {
					return
				}

			case <-ticker.C:
				if _, err := w.Write(heartbeatLine); err != nil {
					return
				}

				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
}

// CloseStreams ends every open push stream. Call it before shutting the
// server down so draining does not wait on long-lived responses. A client
// that disconnects on its own is noticed on the next write, at the latest
// one heartbeat interval later.
func (h *APIHandlers) CloseStreams() {
	h.closeStreams()
}

// streamScope resolves the subscription scope. It returns a nil scope when an
// error response has been written.
func (h *APIHandlers) streamScope(c fiber.Ctx) (*events.Scope, error) {
	if sessionID := c.Query("session_id"); sessionID != "" {
		scope, err := h.chatService.SessionScope(c.Context(), sessionID)
		if err != nil {
			return nil, handleServiceError(c, err)
		}

		return &scope, nil
	}

	identity, err := h.auth.Authenticate(c)
	if err != nil {
		return nil, unauthorized(c, err.Error())
	}

	if org := c.Query("organization_id"); org != "" && org != identity.OrganizationID {
		return nil, forbidden(c, "organization does not match the caller")
	}

	scope := events.Scope{OrganizationID: identity.OrganizationID}

	if conversationID := c.Query("conversation_id"); conversationID != "" {
		conv, err := h.agentService.Conversation(c.Context(), actorFromIdentity(identity), conversationID)
		if err != nil {
			return nil, handleServiceError(c, err)
		}

		scope = events.ConversationScope(conv)
	}

	return &scope, nil
}
