package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/venturelab/boardsync/internal/models"
	"github.com/venturelab/boardsync/sync"
	"go.uber.org/zap"
)

// Deliveries keep running after the HTTP client goes away; cancelling a
// reconcile mid-write would leave partial state and invite a retry storm.
const webhookProcessTimeout = 15 * time.Second

// TrelloWebhookHandler accepts inbound board-change notifications. Trello
// sends HEAD and GET probes while confirming a subscription and retries
// POSTs that don't get a timely 200, so the handler must be idempotent.
func (h *Handler) TrelloWebhookHandler(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		// Liveness probe. Must succeed without authentication or Trello
		// refuses to finalize the subscription.
		c.Status(http.StatusOK)
		return
	}

	teamID := c.Param("teamID")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	if h.WebhookSecret != "" {
		if !h.validSignature(c.GetHeader("X-Trello-Webhook"), body, teamID) {
			zap.L().Warn("Rejected webhook with bad signature", zap.String("teamID", teamID))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook signature"})
			return
		}
	}

	var payload models.TrelloWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		zap.L().Debug("Could not parse webhook payload", zap.String("teamID", teamID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	action := payload.Action
	// Only card moves between lists matter. Everything else gets a 200 so
	// Trello doesn't retry events we intentionally ignore.
	if action.Type != "updateCard" || action.Data.ListAfter.Name == "" {
		c.JSON(http.StatusOK, gin.H{"message": "No action taken"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
	defer cancel()

	outcome, err := h.Reconciler.Reconcile(ctx, teamID, action.Data.Card.ID, action.Data.ListAfter.Name)
	if err != nil {
		zap.L().Error("Reconcile failed",
			zap.String("teamID", teamID),
			zap.String("cardID", action.Data.Card.ID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply event"})
		return
	}

	if outcome == sync.Applied {
		c.JSON(http.StatusOK, gin.H{"message": "Card completion applied"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "No action taken"})
}

// validSignature checks Trello's delivery signature: base64 of an
// HMAC-SHA1 over the raw body concatenated with the callback URL.
func (h *Handler) validSignature(header string, body []byte, teamID string) bool {
	mac := hmac.New(sha1.New, []byte(h.WebhookSecret))
	mac.Write(body)
	mac.Write([]byte(h.Publisher.CallbackURL(teamID)))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(header), []byte(expected))
}
