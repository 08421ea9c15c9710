package models

import (
	"time"

	"gorm.io/datatypes"
)

// Resource is a schema-typed JSON document in the catalog. Resources form an
// optional containment tree via ParentID; deleting a parent cascades to its
// children. PermissionParentID names the resource whose grant set governs
// access to this one and defaults to the resource's own id, making a freshly
// created resource its own permission root. The permission parent is read
// directly, never walked transitively.
type Resource struct {
	ID                 string            `gorm:"primaryKey;type:uuid" json:"id"`
	Kind               string            `gorm:"not null;index" json:"kind"`
	ParentID           *string           `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	PermissionParentID string            `gorm:"type:uuid;index;not null" json:"permission_parent_id"`
	CreatorID          string            `gorm:"type:uuid;not null" json:"creator_id"`
	Data               datatypes.JSON    `json:"data"`
	Labels             datatypes.JSONMap `json:"labels"`
	CreatedAt          time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`

	Children []Resource `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
}
