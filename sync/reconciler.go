package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/venturelab/boardsync/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome reports what a reconcile pass did with an inbound event.
type Outcome int

const (
	Ignored Outcome = iota
	Applied
)

func (o Outcome) String() string {
	if o == Applied {
		return "applied"
	}
	return "ignored"
}

var completionKeywords = []string{"done", "complete", "finished"}

// IsCompletionList reports whether a destination list name means the card
// is finished. Matching is case-insensitive substring so names like
// "Done ✅" or "Completed items" classify.
func IsCompletionList(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range completionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}

	return false
}

// Reconciler turns validated card-move events into internal state changes.
type Reconciler struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

func NewReconciler(db *gorm.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{DB: db, Logger: logger}
}

// Reconcile applies a card-move event for a team. The mapping lookup is
// scoped by both card ID and team ID: card IDs are not unique across
// unrelated boards, and an unscoped lookup could complete another tenant's
// artifact. Every write is a last-write-wins overwrite, so redelivered or
// reordered events converge to the same rows. Status only ever moves to
// complete here; the engine never downgrades an artifact.
func (r *Reconciler) Reconcile(ctx context.Context, teamID, cardID, destinationList string) (Outcome, error) {
	if !IsCompletionList(destinationList) {
		return Ignored, nil
	}

	var mapping models.CardMapping
	err := r.DB.WithContext(ctx).
		Where("card_id = ? AND team_id = ?", cardID, teamID).
		First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Unknown card for this team: another tenant's card ID, or a
		// mapping orphaned by disconnect. Strictly a no-op.
		return Ignored, nil
	}
	if err != nil {
		return Ignored, fmt.Errorf("failed to look up card mapping: %w", err)
	}

	now := time.Now().UTC()
	if err := r.DB.WithContext(ctx).Model(&models.Artifact{}).
		Where("id = ? AND team_id = ?", mapping.ArtifactID, teamID).
		Updates(map[string]any{"status": models.StatusComplete, "updated_at": now}).Error; err != nil {
		return Ignored, fmt.Errorf("failed to complete artifact %s: %w", mapping.ArtifactID, err)
	}

	if err := r.DB.WithContext(ctx).Model(&models.CardMapping{}).
		Where("artifact_id = ?", mapping.ArtifactID).
		Update("last_pulled_at", &now).Error; err != nil {
		return Ignored, fmt.Errorf("failed to stamp mapping for artifact %s: %w", mapping.ArtifactID, err)
	}

	r.Logger.Info("Applied card completion",
		zap.String("teamID", teamID),
		zap.String("cardID", cardID),
		zap.String("artifactID", mapping.ArtifactID),
		zap.String("destinationList", destinationList))

	return Applied, nil
}
