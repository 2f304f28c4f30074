package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/venturelab/boardsync/integrations"
	"github.com/venturelab/boardsync/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotConnected    = errors.New("team has no trello connection")
	ErrNoBoardSelected = errors.New("team has no board selected")
)

const (
	pushAttempts    = 3
	pushRetryDelay  = 500 * time.Millisecond
	teardownTimeout = 10 * time.Second
)

// Publisher propagates internal artifact lifecycle changes outward:
// webhook registration on board selection, card create/update on artifact
// pushes, connection teardown on disconnect.
type Publisher struct {
	DB              *gorm.DB
	Trello          *integrations.TrelloClient
	Logger          *zap.Logger
	CallbackBaseURL string
}

func NewPublisher(db *gorm.DB, trello *integrations.TrelloClient, callbackBaseURL string, logger *zap.Logger) *Publisher {
	return &Publisher{
		DB:              db,
		Trello:          trello,
		Logger:          logger,
		CallbackBaseURL: callbackBaseURL,
	}
}

// CallbackURL is the webhook delivery URL registered with Trello for a
// team's board. The team ID rides in the path so inbound deliveries can be
// tenant-scoped without trusting the payload.
func (p *Publisher) CallbackURL(teamID string) string {
	return fmt.Sprintf("%s/api/webhook/%s", p.CallbackBaseURL, teamID)
}

func (p *Publisher) connection(ctx context.Context, teamID string) (*models.Connection, error) {
	var conn models.Connection
	err := p.DB.WithContext(ctx).First(&conn, "team_id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection for team %s: %w", teamID, err)
	}

	return &conn, nil
}

// OnBoardSelected registers the webhook before persisting the selection,
// so a registration failure can never leave a board marked selected
// without a live subscription. The caller is waiting on this; failures
// surface synchronously.
func (p *Publisher) OnBoardSelected(ctx context.Context, teamID, boardID string) error {
	conn, err := p.connection(ctx, teamID)
	if err != nil {
		return err
	}

	webhookID, err := p.Trello.RegisterWebhook(ctx, conn.Token, boardID, p.CallbackURL(teamID))
	if err != nil {
		return fmt.Errorf("failed to register webhook for board %s: %w", boardID, err)
	}

	now := time.Now().UTC()
	if err := p.DB.WithContext(ctx).Model(&models.Connection{}).
		Where("team_id = ?", teamID).
		Updates(map[string]any{
			"board_id":       boardID,
			"webhook_id":     webhookID,
			"last_synced_at": &now,
		}).Error; err != nil {
		return fmt.Errorf("failed to persist board selection for team %s: %w", teamID, err)
	}

	p.Logger.Info("Board selected",
		zap.String("teamID", teamID),
		zap.String("boardID", boardID),
		zap.String("webhookID", webhookID))

	return nil
}

// OnArtifactChanged mirrors an artifact outward. The first push creates a
// card and the mapping; later pushes overwrite the card's description.
// The artifact save has already happened by the time this runs, so an
// external failure is logged with a correlation ID and returned, never
// rolled back into artifact state.
func (p *Publisher) OnArtifactChanged(ctx context.Context, artifact *models.Artifact) error {
	correlationID := uuid.NewString()

	conn, err := p.connection(ctx, artifact.TeamID)
	if err != nil {
		return err
	}
	if conn.BoardID == nil {
		return ErrNoBoardSelected
	}

	var mapping models.CardMapping
	err = p.DB.WithContext(ctx).First(&mapping, "artifact_id = ?", artifact.ID).Error
	missing := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !missing {
		return fmt.Errorf("failed to load card mapping for artifact %s: %w", artifact.ID, err)
	}

	now := time.Now().UTC()

	if missing {
		var cardID string
		err := retry.Do(func() error {
			var rerr error
			cardID, rerr = p.Trello.CreateCard(ctx, conn.Token, *conn.BoardID, artifact.Title, artifact.Summary)
			return rerr
		}, retry.Attempts(pushAttempts), retry.Delay(pushRetryDelay), retry.Context(ctx))
		if err != nil {
			p.Logger.Error("Card create failed",
				zap.String("correlationID", correlationID),
				zap.String("teamID", artifact.TeamID),
				zap.String("artifactID", artifact.ID),
				zap.Error(err))
			return fmt.Errorf("failed to create card for artifact %s: %w", artifact.ID, err)
		}

		mapping = models.CardMapping{
			ArtifactID:   artifact.ID,
			CardID:       cardID,
			TeamID:       artifact.TeamID,
			LastPushedAt: &now,
		}
		if err := p.DB.WithContext(ctx).Save(&mapping).Error; err != nil {
			return fmt.Errorf("failed to save card mapping for artifact %s: %w", artifact.ID, err)
		}

		p.Logger.Info("Card created",
			zap.String("correlationID", correlationID),
			zap.String("teamID", artifact.TeamID),
			zap.String("artifactID", artifact.ID),
			zap.String("cardID", cardID))

		return nil
	}

	err = retry.Do(func() error {
		return p.Trello.UpdateCard(ctx, conn.Token, mapping.CardID, artifact.Summary)
	}, retry.Attempts(pushAttempts), retry.Delay(pushRetryDelay), retry.Context(ctx))
	if err != nil {
		p.Logger.Error("Card update failed",
			zap.String("correlationID", correlationID),
			zap.String("teamID", artifact.TeamID),
			zap.String("artifactID", artifact.ID),
			zap.String("cardID", mapping.CardID),
			zap.Error(err))
		return fmt.Errorf("failed to update card %s for artifact %s: %w", mapping.CardID, artifact.ID, err)
	}

	if err := p.DB.WithContext(ctx).Model(&models.CardMapping{}).
		Where("artifact_id = ?", artifact.ID).
		Update("last_pushed_at", &now).Error; err != nil {
		return fmt.Errorf("failed to stamp card mapping for artifact %s: %w", artifact.ID, err)
	}

	p.Logger.Info("Card updated",
		zap.String("correlationID", correlationID),
		zap.String("teamID", artifact.TeamID),
		zap.String("artifactID", artifact.ID),
		zap.String("cardID", mapping.CardID))

	return nil
}

// OnDisconnect removes the team's connection row. Webhook teardown runs
// best-effort in the background: a leaked subscription only produces
// deliveries that fail the team-scoped mapping lookup and no-op.
func (p *Publisher) OnDisconnect(ctx context.Context, teamID string) error {
	conn, err := p.connection(ctx, teamID)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.DB.WithContext(ctx).Delete(&models.Connection{}, "team_id = ?", teamID).Error; err != nil {
		return fmt.Errorf("failed to delete connection for team %s: %w", teamID, err)
	}

	p.Logger.Info("Disconnected team", zap.String("teamID", teamID))

	if conn.WebhookID != nil {
		token, webhookID := conn.Token, *conn.WebhookID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
			defer cancel()
			if err := p.Trello.DeleteWebhook(ctx, token, webhookID); err != nil {
				p.Logger.Warn("Webhook teardown failed",
					zap.String("teamID", teamID),
					zap.String("webhookID", webhookID),
					zap.Error(err))
			}
		}()
	}

	return nil
}
