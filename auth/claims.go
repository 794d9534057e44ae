package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the JWT claims structure for operator sessions. It embeds
// jwt.RegisteredClaims for the standard fields (exp, iat) and adds the
// operator identity the API and audit trail run on.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Operator roles. Admin can read the audit trail; operator can create
// chains and append evidence; viewer can only read and verify.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)
