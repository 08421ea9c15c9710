package models

// ServiceAccount is a machine principal authenticating with a generated
// secret. Its id is derived from the name (see DeriveNamedID) so resource
// shares may reference the account by name ahead of its creation.
type ServiceAccount struct {
	BaseModel
	Name          string `gorm:"uniqueIndex;not null" json:"name"`
	IsAdmin       bool   `json:"is_admin"`
	SecretKeyHash string `json:"-"`
}
