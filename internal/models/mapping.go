package models

import "time"

// CardMapping ties an artifact to the Trello card it was pushed to. Card
// IDs are only meaningful within a team's board, so inbound lookups must
// always be scoped by both card ID and team ID. Mappings are never deleted
// automatically; an orphaned row simply stops matching deliveries.
type CardMapping struct {
	ArtifactID   string `gorm:"primaryKey"`
	CardID       string `gorm:"uniqueIndex:idx_card_team,priority:1"`
	TeamID       string `gorm:"uniqueIndex:idx_card_team,priority:2"`
	LastPushedAt *time.Time
	LastPulledAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
