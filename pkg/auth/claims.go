package auth

import "github.com/golang-jwt/jwt/v5"

// IdentityClaims is the token minted by the external identity provider.
// The subject is the stable external id used to find-or-create users.
type IdentityClaims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ExternalID returns the token subject.
func (c *IdentityClaims) ExternalID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}
