package models

import "time"

// Grant actions produced by the system itself. Action is an open string, so
// applications may grant custom verbs alongside these.
const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionGrant = "grant"
)

// Grant records that a principal may perform an action on every resource whose
// permission root is ResourceID. The triple is the primary key, making grants
// idempotent.
type Grant struct {
	ResourceID  string    `gorm:"primaryKey;type:uuid" json:"resource_id"`
	PrincipalID string    `gorm:"primaryKey;type:uuid;index" json:"principal_id"`
	Action      string    `gorm:"primaryKey" json:"action"`
	CreatedAt   time.Time `json:"created_at"`
}
