package models

import "time"

type ArtifactStatus string

const (
	StatusDraft      ArtifactStatus = "draft"
	StatusInProgress ArtifactStatus = "in_progress"
	StatusComplete   ArtifactStatus = "complete"
)

// Artifact is a team's unit of work (value proposition, financial model,
// etc.) owned by the wider application. The sync engine only ever moves
// Status forward to complete; downgrades happen through the artifact edit
// path, never from an inbound board event.
type Artifact struct {
	ID        string `gorm:"primaryKey"`
	TeamID    string `gorm:"index"`
	Type      string
	Status    ArtifactStatus `gorm:"default:draft"`
	Title     string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
