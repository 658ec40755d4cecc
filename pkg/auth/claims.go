package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ActorTokenPayload is the identity material minted into an access token.
// Role semantics belong to the external directory; the fulfillment core
// only records and forwards them.
type ActorTokenPayload struct {
	ActorID    uuid.UUID
	Name       string
	Role       string
	FacilityID *uuid.UUID
	JTI        string
}

// ActorTokenClaims is the JWT claim set carried by stockflow tokens.
type ActorTokenClaims struct {
	ActorID    uuid.UUID  `json:"actor_id"`
	Name       string     `json:"name,omitempty"`
	Role       string     `json:"role,omitempty"`
	FacilityID *uuid.UUID `json:"facility_id,omitempty"`
	jwt.RegisteredClaims
}
