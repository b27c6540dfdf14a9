package types

import (
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims carried by a session token. The token
// identifies an anonymous analysis session, not a user.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}
