package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/venturelab/boardsync/integrations"
	"github.com/venturelab/boardsync/internal/models"
	"github.com/venturelab/boardsync/sync"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler carries the collaborators every endpoint needs. Authentication
// and team authorization happen upstream; handlers only see the resolved
// actor ID in the X-Actor-ID header.
type Handler struct {
	DB            *gorm.DB
	Trello        *integrations.TrelloClient
	Reconciler    *sync.Reconciler
	Publisher     *sync.Publisher
	WebhookSecret string
}

// RegisterRoutes mounts the sync-engine endpoints on the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", h.HealthCheckHandler)

	teams := r.Group("/teams/:teamID")
	{
		teams.GET("/trello/connect", h.ConnectHandler)
		teams.GET("/trello/callback", h.CallbackHandler)
		teams.GET("/trello/boards", h.ListBoardsHandler)
		teams.POST("/trello/board", h.SelectBoardHandler)
		teams.POST("/trello/disconnect", h.DisconnectHandler)
		teams.POST("/artifacts/:artifactID/push", h.PushArtifactHandler)
	}

	// Trello probes its callback URL with HEAD and GET before confirming
	// a subscription, then POSTs deliveries to the same path.
	r.POST("/webhook/:teamID", h.TrelloWebhookHandler)
	r.HEAD("/webhook/:teamID", h.TrelloWebhookHandler)
	r.GET("/webhook/:teamID", h.TrelloWebhookHandler)
}

func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func settingsPath(teamID string) string {
	return fmt.Sprintf("/teams/%s/settings/board", teamID)
}

// ConnectHandler starts the authorization handshake by redirecting the
// user to Trello's consent page.
func (h *Handler) ConnectHandler(c *gin.Context) {
	if c.GetHeader("X-Actor-ID") == "" {
		c.Redirect(http.StatusFound, "/signin")
		return
	}

	teamID := c.Param("teamID")
	returnURL := fmt.Sprintf("%s/api/teams/%s/trello/callback", h.Publisher.CallbackBaseURL, teamID)
	c.Redirect(http.StatusFound, h.Trello.AuthorizeURL(returnURL))
}

// Trello delivers the token in the URL fragment, which never reaches the
// server. This page runs in the user's browser, reads the fragment and
// re-issues the token as a one-time query parameter to the same path. The
// token is never written to client-side storage.
const fragmentBouncePage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Connecting to Trello…</title></head>
<body>
<script>
  var token = window.location.hash.replace(/^#token=/, "");
  window.location.replace(window.location.pathname + "?token=" + encodeURIComponent(token));
</script>
</body>
</html>`

// CallbackHandler finishes the handshake. Without a token query parameter
// it serves the fragment-bounce page; with one it verifies the token
// against Trello before persisting anything.
func (h *Handler) CallbackHandler(c *gin.Context) {
	teamID := c.Param("teamID")

	token := c.Query("token")
	if token == "" {
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fragmentBouncePage))
		return
	}

	memberID, err := h.Trello.VerifyToken(c.Request.Context(), token)
	if errors.Is(err, integrations.ErrInvalidCredential) {
		c.Redirect(http.StatusFound, settingsPath(teamID)+"?error=invalid_token")
		return
	}
	if err != nil {
		zap.L().Error("Token verification failed", zap.String("teamID", teamID), zap.Error(err))
		c.Redirect(http.StatusFound, settingsPath(teamID)+"?error=trello_unavailable")
		return
	}

	// Upsert keyed on team ID: a repeated completion just overwrites the
	// stored credential and leaves any board selection alone.
	var conn models.Connection
	err = h.DB.First(&conn, "team_id = ?", teamID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		conn = models.Connection{
			TeamID:      teamID,
			Token:       token,
			MemberID:    memberID,
			ConnectedAt: time.Now().UTC(),
		}
		err = h.DB.Create(&conn).Error
	case err == nil:
		err = h.DB.Model(&models.Connection{}).
			Where("team_id = ?", teamID).
			Updates(map[string]any{
				"token":        token,
				"member_id":    memberID,
				"connected_at": time.Now().UTC(),
			}).Error
	}
	if err != nil {
		zap.L().Error("Failed to persist connection", zap.String("teamID", teamID), zap.Error(err))
		c.Redirect(http.StatusFound, settingsPath(teamID)+"?error=internal")
		return
	}

	zap.L().Info("Team connected to Trello", zap.String("teamID", teamID), zap.String("memberID", memberID))
	c.Redirect(http.StatusFound, settingsPath(teamID)+"?connected=1")
}

// ListBoardsHandler returns the boards visible to the team's credential.
// Read-only; no external call is made for unconnected teams.
func (h *Handler) ListBoardsHandler(c *gin.Context) {
	teamID := c.Param("teamID")

	var conn models.Connection
	err := h.DB.First(&conn, "team_id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusConflict, gin.H{"error": "Team is not connected to Trello"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load connection"})
		return
	}

	boards, err := h.Trello.ListBoards(c.Request.Context(), conn.Token, conn.MemberID)
	if err != nil {
		zap.L().Error("Failed to list boards", zap.String("teamID", teamID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list boards"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"boards": boards})
}

// SelectBoardHandler picks the board to sync and registers its webhook.
// The user is waiting, so a registration failure fails the call rather
// than leaving a half-selected state.
func (h *Handler) SelectBoardHandler(c *gin.Context) {
	teamID := c.Param("teamID")

	var req struct {
		BoardID string `json:"boardId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.BoardID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "boardId is required"})
		return
	}

	err := h.Publisher.OnBoardSelected(c.Request.Context(), teamID, req.BoardID)
	switch {
	case errors.Is(err, sync.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "Team is not connected to Trello"})
	case err != nil:
		zap.L().Error("Board selection failed", zap.String("teamID", teamID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to select board"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Board selected"})
	}
}

// DisconnectHandler tears down the team's connection.
func (h *Handler) DisconnectHandler(c *gin.Context) {
	teamID := c.Param("teamID")

	if err := h.Publisher.OnDisconnect(c.Request.Context(), teamID); err != nil {
		zap.L().Error("Disconnect failed", zap.String("teamID", teamID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to disconnect"})
		return
	}

	c.Redirect(http.StatusFound, settingsPath(teamID)+"?disconnected=1")
}

// PushArtifactHandler mirrors an artifact out to the team's board.
func (h *Handler) PushArtifactHandler(c *gin.Context) {
	teamID := c.Param("teamID")
	artifactID := c.Param("artifactID")

	var artifact models.Artifact
	err := h.DB.First(&artifact, "id = ? AND team_id = ?", artifactID, teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load artifact"})
		return
	}

	err = h.Publisher.OnArtifactChanged(c.Request.Context(), &artifact)
	switch {
	case errors.Is(err, sync.ErrNotConnected), errors.Is(err, sync.ErrNoBoardSelected):
		c.JSON(http.StatusConflict, gin.H{"error": "Team has no board selected"})
	case err != nil:
		// The artifact itself is already saved; only the mirror failed.
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to push artifact to board"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Artifact pushed"})
	}
}
