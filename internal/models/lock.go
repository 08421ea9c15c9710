package models

import "time"

// Lock is the lease record backing a cluster-wide named mutex. OwnerID holds
// the current lease session (empty when free), ExpiresAt bounds the lease so
// crashed holders are reaped, and FencingToken increases by one on every
// successful acquisition of the key.
type Lock struct {
	ID           string     `gorm:"primaryKey;size:255" json:"id"`
	FencingToken int64      `gorm:"not null" json:"fencing_token"`
	OwnerID      string     `gorm:"type:uuid;index" json:"-"`
	ExpiresAt    *time.Time `gorm:"index" json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
