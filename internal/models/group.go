package models

import "time"

// Group is a named principal that users can be members of. Its id is derived
// from the name, so grants can be issued against a group before it exists.
type Group struct {
	BaseModel
	Name string `gorm:"uniqueIndex;not null" json:"name"`

	Members []GroupMember `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
}

// GroupMember links a user into a group. Group admins manage membership.
type GroupMember struct {
	GroupID   string    `gorm:"primaryKey;type:uuid" json:"group_id"`
	UserID    string    `gorm:"primaryKey;type:uuid;index" json:"user_id"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"joined_at"`
}
