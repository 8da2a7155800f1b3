package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/facebook"
	"github.com/david/govbid-leads/internal/lead"
)

// handleVerifyWebhook answers the Graph subscription handshake by echoing
// hub.challenge when the verify token matches.
func (s *Server) handleVerifyWebhook(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode != "subscribe" || s.deps.VerifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.VerifyToken)) != 1 {
		s.log.Warn("Webhook verification failed", "mode", mode)
		return apperr.New(apperr.KindForbidden, "Verify token does not match.")
	}
	s.log.Info("Webhook verified")
	return c.String(http.StatusOK, challenge)
}

// handleWebhookEvent dispatches page comments and inbound messages. Items
// are processed independently; failures are logged so Graph does not retry
// the whole batch.
func (s *Server) handleWebhookEvent(c echo.Context) error {
	var event facebook.WebhookEvent
	if err := c.Bind(&event); err != nil {
		return apperr.BadRequest("Invalid webhook payload")
	}
	if event.Object != "page" {
		return apperr.NotFound("Unsupported webhook object")
	}

	ctx := c.Request().Context()
	log := s.log.WithContext(ctx)
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			if !change.IsNewComment() || change.Value.From.ID == entry.ID {
				continue
			}
			cm := lead.Comment{
				CommentID: change.Value.CommentID,
				FromID:    change.Value.From.ID,
				FromName:  change.Value.From.Name,
				Message:   facebook.CleanText(change.Value.Message),
			}
			if _, err := s.deps.Comments.HandleComment(ctx, cm); err != nil {
				log.Error("Comment handling failed", "comment_id", cm.CommentID, "error", err)
			}
		}
		for _, msg := range entry.Messaging {
			text, ok := msg.InboundText()
			if !ok {
				continue
			}
			if err := s.deps.Conversations.HandleInbound(ctx, msg.Sender.ID, text); err != nil {
				log.Error("Inbound message handling failed", "sender_id", msg.Sender.ID, "error", err)
			}
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}
