package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Operator roles
const (
	RoleOperator = "operator" // scoped to the account in the token
	RoleAdmin    = "admin"    // platform-wide access
)

// OperatorClaims represents the JWT claims operator API tokens carry. Tokens
// are minted by the portal frontend with the shared secret; this service only
// verifies them.
type OperatorClaims struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"` // operator display name for audit trails
	Role      string `json:"role"`
	jwt.RegisteredClaims
}
