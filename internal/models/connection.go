package models

import "time"

type ConnectionState string

const (
	StateNotConnected       ConnectionState = "NOT_CONNECTED"
	StateConnectedNoBoard   ConnectionState = "CONNECTED_NO_BOARD"
	StateConnectedWithBoard ConnectionState = "CONNECTED_WITH_BOARD"
)

// Connection is a team's link to its Trello account: the credential, the
// selected board and the webhook subscription on that board. One row per
// team. A board is never marked selected without a registered webhook, so
// BoardID being set implies WebhookID is set too.
type Connection struct {
	TeamID       string `gorm:"primaryKey"`
	Token        string `gorm:"type:text"` // Trello member token, confidential
	MemberID     string // Trello member ID the token belongs to
	BoardID      *string
	WebhookID    *string
	ConnectedAt  time.Time
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c *Connection) State() ConnectionState {
	if c == nil {
		return StateNotConnected
	}
	if c.BoardID != nil {
		return StateConnectedWithBoard
	}
	return StateConnectedNoBoard
}
