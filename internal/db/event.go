package db

import (
	"time"

	"gorm.io/datatypes"
)

const (
	EventSessionCreated    = "session_created"
	EventClientJoined      = "client_joined"
	EventClientLeft        = "client_left"
	EventDocumentCollected = "document_collected"
)

// Event is one row of the session audit log. Document state is never stored.
type Event struct {
	ID          uint           `gorm:"primaryKey"`
	SessionCode string         `gorm:"size:32;index;not null"`
	Type        string         `gorm:"size:64;not null"`
	ClientID    string         `gorm:"size:64"`
	Identity    string         `gorm:"size:128;index"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `gorm:"not null"`
}
