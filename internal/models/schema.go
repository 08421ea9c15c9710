package models

import (
	"gorm.io/datatypes"
)

// Schema stores the JSON Schema (draft-07) governing a resource kind.
type Schema struct {
	BaseModel
	Kind string         `gorm:"uniqueIndex;not null" json:"kind"`
	Data datatypes.JSON `json:"data"`
}
