package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the principal descriptor attached to every catalog call. Subject
// (from the registered claims) is the caller's principal id; Groups lists the
// group principals the caller belongs to; Admin bypasses permission checks;
// Refresh marks refresh tokens, which are rejected wherever an access token is
// expected.
type Claims struct {
	Groups  []string `json:"grp,omitempty"`
	Admin   bool     `json:"adm,omitempty"`
	Refresh bool     `json:"rfs,omitempty"`
	jwt.RegisteredClaims
}

// Principals returns every principal id the caller may act as: the subject
// itself plus all of its groups.
func (c *Claims) Principals() []string {
	res := make([]string, 0, len(c.Groups)+1)
	res = append(res, c.Groups...)
	res = append(res, c.Subject)
	return res
}

// HasGroup reports membership of the given group id.
func (c *Claims) HasGroup(groupID string) bool {
	for _, g := range c.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}

// SystemClaims returns the internal system principal used for operations the
// process performs on its own behalf (event publication, grant bootstrap).
// It is constructed here only and never derived from external input.
func SystemClaims() *Claims {
	return &Claims{Admin: true}
}
