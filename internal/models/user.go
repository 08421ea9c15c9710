package models

// User is a human principal. Admin users bypass all permission checks.
type User struct {
	BaseModel
	Name         string `gorm:"uniqueIndex;not null" json:"name"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	IsAdmin      bool   `json:"is_admin"`
	PasswordHash string `json:"-"`
}
