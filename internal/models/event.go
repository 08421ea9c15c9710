package models

import (
	"time"

	"gorm.io/datatypes"
)

// Event types emitted by the catalog.
const (
	EventTypeCreate = "create"
	EventTypeUpdate = "update"
	EventTypeDelete = "delete"
)

// Event is one entry of the append-only domain event log. Serial doubles as
// the primary key so the database assigns strictly increasing log positions.
// Rows are never mutated or deleted.
type Event struct {
	Serial       int64             `gorm:"primaryKey;autoIncrement" json:"serial"`
	ID           string            `gorm:"type:uuid;uniqueIndex;not null" json:"id"`
	ResourceID   string            `gorm:"type:uuid;index" json:"resource_id"`
	ResourceKind string            `gorm:"index" json:"resource_kind"`
	EventType    string            `gorm:"index" json:"event_type"`
	Data         datatypes.JSON    `json:"data"`
	Labels       datatypes.JSONMap `json:"labels"`
	CreatedAt    time.Time         `json:"created_at"`
}
